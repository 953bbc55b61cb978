package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Shubhamkumarpatel70/videovhat/internal/auth"
	"github.com/Shubhamkumarpatel70/videovhat/internal/ban"
	"github.com/Shubhamkumarpatel70/videovhat/internal/config"
	"github.com/Shubhamkumarpatel70/videovhat/internal/directory"
	"github.com/Shubhamkumarpatel70/videovhat/internal/gateway"
	"github.com/Shubhamkumarpatel70/videovhat/internal/match"
	"github.com/Shubhamkumarpatel70/videovhat/internal/messaging"
	"github.com/Shubhamkumarpatel70/videovhat/internal/moderation"
	"github.com/Shubhamkumarpatel70/videovhat/internal/protocol"
	"github.com/Shubhamkumarpatel70/videovhat/internal/ratelimit"
	"github.com/Shubhamkumarpatel70/videovhat/internal/registry"
	"github.com/Shubhamkumarpatel70/videovhat/internal/room"
	"github.com/Shubhamkumarpatel70/videovhat/internal/ws"
)

func main() {
	cfg := config.Load()

	// --- Redis (bans, rate limits) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	banStore := ban.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb)

	// --- NATS (audit stream) ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NatsURL
	natsConfig.Name = "videovhat-server"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Postgres (profiles, restricted words) ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	dir := directory.New(db)

	// --- Auth ---
	if cfg.JWTSecret == "" {
		log.Printf("warning: JWT_SECRET is empty, all connections will be anonymous")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret)

	// --- Core state ---
	reg := registry.New()
	rooms := room.NewManager()
	matcher := match.New(reg, rooms, time.Now().UnixNano())
	filter := moderation.NewFilter(dir, cfg.WordCacheTTL)

	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
	server := ws.NewServer(wsConfig, verifier, banStore, limiter)

	gw := gateway.New(server, reg, rooms, matcher, filter, banStore, natsClient, limiter, dir, gateway.Config{
		BanDuration: cfg.BanDuration,
	})

	log.Printf("videovhat server starting")
	log.Printf("  listen_addr:     %s", wsConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", wsConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", wsConfig.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NatsURL)
	log.Printf("  ban_duration:    %s", cfg.BanDuration)

	dispatcher := ws.NewMessageDispatcher()

	// register wraps each handler so a panic takes down one message, not the
	// worker pool.
	register := func(msgType string, fn func(conn *ws.Connection, msg interface{})) {
		dispatcher.Register(msgType, func(conn *ws.Connection, msg interface{}) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in %s handler conn=%s: %v", msgType, conn.ID, r)
				}
			}()
			fn(conn, msg)
		})
	}

	register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		gw.HandleJoin(conn.ID, conn.Identity, msg.(protocol.JoinMsg))
	})
	register(protocol.TypeFindMatch, func(conn *ws.Connection, msg interface{}) {
		gw.HandleFindMatch(conn.ID, msg.(protocol.FindMatchMsg))
	})
	register(protocol.TypeSkip, func(conn *ws.Connection, msg interface{}) {
		gw.HandleSkip(conn.ID, msg.(protocol.SkipMsg))
	})
	register(protocol.TypeEndCall, func(conn *ws.Connection, msg interface{}) {
		gw.HandleEndCall(conn.ID, msg.(protocol.EndCallMsg))
	})
	for _, signalType := range []string{protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate} {
		signalType := signalType
		register(signalType, func(conn *ws.Connection, msg interface{}) {
			gw.HandleSignal(conn.ID, signalType, msg.(protocol.SignalMsg))
		})
	}
	register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		gw.HandleSendMessage(conn.ID, msg.(protocol.SendMessageMsg))
	})

	server.SetOnMessage(dispatcher.Dispatch)
	server.SetOnDisconnect(gw.HandleDisconnect)

	// Run the server in the background so main can wait for signals.
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("server error: %v", err)
		}
	}

	if err := server.Shutdown(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}

	log.Println("videovhat server stopped")
}
