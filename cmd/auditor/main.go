// The auditor consumes chat lines and violation records from the audit
// stream and persists them to PostgreSQL. It runs separately from the
// WebSocket server so the relay path never waits on the database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/Shubhamkumarpatel70/videovhat/internal/chatlog"
	"github.com/Shubhamkumarpatel70/videovhat/internal/config"
	"github.com/Shubhamkumarpatel70/videovhat/internal/messaging"
	"github.com/Shubhamkumarpatel70/videovhat/migrations"
)

func main() {
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to reach postgres: %v", err)
	}
	cancel()

	if err := runMigrations(cfg.PostgresDSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	store := chatlog.NewStore(db)

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NatsURL
	natsConfig.Name = "videovhat-auditor"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeChatLines(func(line *chatlog.Line) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.InsertLine(ctx, line); err != nil {
			log.Printf("[auditor] insert chat line failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to chat lines: %v", err)
	}

	err = natsClient.SubscribeViolations(func(v *chatlog.Violation) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.InsertViolation(ctx, v); err != nil {
			log.Printf("[auditor] insert violation failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to violations: %v", err)
	}

	adminSrv := &http.Server{
		Addr:         cfg.AuditListenAddr,
		Handler:      newAdminMux(store),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[auditor] admin endpoint on %s", cfg.AuditListenAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[auditor] admin server error: %v", err)
		}
	}()

	log.Printf("auditor running (nats=%s)", cfg.NatsURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[auditor] admin shutdown error: %v", err)
	}
	shutdownCancel()

	natsClient.Close()
	if err := db.Close(); err != nil {
		log.Printf("postgres close error: %v", err)
	}

	log.Println("auditor stopped")
}

// runMigrations applies any pending schema migrations from the embedded SQL
// files. A database that is already current is not an error.
func runMigrations(dsn string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.Printf("[auditor] schema is current")
	return nil
}
