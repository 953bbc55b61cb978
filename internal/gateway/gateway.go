// Package gateway implements the application-level protocol on top of the
// WebSocket transport: presence, matchmaking, signaling relay, chat
// moderation, and the ban policy. It is transport-neutral; the ws server is
// plugged in through the Sender interface so tests can drive the gateway with
// an in-memory fake.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Shubhamkumarpatel70/videovhat/internal/auth"
	"github.com/Shubhamkumarpatel70/videovhat/internal/ban"
	"github.com/Shubhamkumarpatel70/videovhat/internal/chatlog"
	"github.com/Shubhamkumarpatel70/videovhat/internal/directory"
	"github.com/Shubhamkumarpatel70/videovhat/internal/match"
	"github.com/Shubhamkumarpatel70/videovhat/internal/metrics"
	"github.com/Shubhamkumarpatel70/videovhat/internal/moderation"
	"github.com/Shubhamkumarpatel70/videovhat/internal/protocol"
	"github.com/Shubhamkumarpatel70/videovhat/internal/ratelimit"
	"github.com/Shubhamkumarpatel70/videovhat/internal/registry"
	"github.com/Shubhamkumarpatel70/videovhat/internal/room"
)

// Sender delivers frames to connected clients. Implemented by the ws server;
// tests use an in-memory fake.
type Sender interface {
	Send(connID string, data []byte) error
	Broadcast(data []byte)
	Kick(connID string)
}

// BanStore applies temporary bans to authenticated identities.
type BanStore interface {
	Ban(ctx context.Context, userID string, duration time.Duration, reason string) error
}

// Auditor receives chat lines and violation records. Publishing is
// fire-and-forget; failures are logged and never surface to clients.
type Auditor interface {
	PublishChatLine(line *chatlog.Line) error
	PublishViolation(v *chatlog.Violation) error
}

// Limiter throttles client actions. Implemented by the Redis rate limiter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) int
}

// ProfileSource resolves the persistent account record behind an
// authenticated identity. Implemented by the Postgres directory.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*directory.Profile, error)
}

// Config holds gateway policy knobs.
type Config struct {
	// BanDuration is the moderation ban length. Zero means ban.DefaultDuration.
	BanDuration time.Duration

	// KickDelay is the grace period between the violation notice and the
	// forced disconnect, long enough for the client to render the notice.
	// Zero means one second.
	KickDelay time.Duration
}

// Gateway wires the registry, matchmaker, room manager, and moderation filter
// behind the message handlers. One instance serves all connections.
type Gateway struct {
	sender   Sender
	reg      *registry.Registry
	rooms    *room.Manager
	matcher  *match.Matchmaker
	filter   *moderation.Filter
	bans     BanStore      // nil disables moderation bans
	audit    Auditor       // nil disables audit publishing
	limiter  Limiter       // nil disables rate limiting
	profiles ProfileSource // nil disables stored-profile lookups
	buffers  *chatlog.MessageBuffer

	banDuration time.Duration
	kickDelay   time.Duration
}

// New creates a Gateway over the given collaborators. bans, audit, limiter,
// and profiles may be nil; the corresponding behavior is then skipped.
func New(sender Sender, reg *registry.Registry, rooms *room.Manager, matcher *match.Matchmaker,
	filter *moderation.Filter, bans BanStore, audit Auditor, limiter Limiter,
	profiles ProfileSource, cfg Config) *Gateway {

	if cfg.BanDuration <= 0 {
		cfg.BanDuration = ban.DefaultDuration
	}
	if cfg.KickDelay <= 0 {
		cfg.KickDelay = time.Second
	}

	return &Gateway{
		sender:      sender,
		reg:         reg,
		rooms:       rooms,
		matcher:     matcher,
		filter:      filter,
		bans:        bans,
		audit:       audit,
		limiter:     limiter,
		profiles:    profiles,
		buffers:     chatlog.NewMessageBuffer(),
		banDuration: cfg.BanDuration,
		kickDelay:   cfg.KickDelay,
	}
}

// HandleJoin registers the connection as a participant and announces the
// updated lobby to everyone. Joining twice updates the profile in place; a
// re-join while matched tears the room down first so the connection never
// occupies a room while sitting in the available pool.
func (g *Gateway) HandleJoin(connID string, identity *auth.Identity, msg protocol.JoinMsg) {
	name := strings.TrimSpace(msg.Name)

	if identity != nil && g.profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		prof, err := g.profiles.GetProfile(ctx, identity.UserID)
		cancel()
		switch {
		case err != nil:
			log.Printf("[gateway] profile lookup failed user=%s: %v (continuing)", identity.UserID, err)
		case prof != nil && prof.AdminBanned(time.Now()):
			g.send(connID, protocol.TypeBanned, protocol.BannedMsg{
				Message:          "your account is banned",
				RemainingSeconds: adminBanRemaining(prof, time.Now()),
			})
			g.sender.Kick(connID)
			log.Printf("[gateway] rejected admin-banned user=%s conn=%s", identity.UserID, connID)
			return
		case prof != nil && name == "":
			// The stored record is the source of truth for the display name.
			name = strings.TrimSpace(prof.Name)
		}
	}

	if name == "" {
		name = "Anonymous"
	}

	// A join while matched abandons the current call.
	g.teardownRoomFor(connID, true)

	g.reg.AddOrUpdate(&registry.Participant{
		ConnID:      connID,
		Identity:    identity,
		Name:        name,
		Country:     msg.Country,
		Gender:      msg.Gender,
		IsAnonymous: msg.IsAnonymous || identity == nil,
	})

	g.send(connID, protocol.TypeUserJoined, protocol.UserJoinedMsg{
		Message: "joined the lobby",
	})

	g.broadcastPresence()

	log.Printf("[gateway] join conn=%s name=%q anonymous=%t (online=%d)",
		connID, name, msg.IsAnonymous || identity == nil, g.reg.Count())
}

// HandleFindMatch pairs the requester with a random compatible available
// participant. When nobody fits, the requester stays available and receives
// no_match_found.
func (g *Gateway) HandleFindMatch(connID string, msg protocol.FindMatchMsg) {
	if g.limited(connID, connID, ratelimit.RuleMatch) {
		return
	}

	prefs := &registry.Preferences{
		Gender:  msg.Preferences.Gender,
		Country: msg.Preferences.Country,
	}
	g.findMatch(connID, prefs)
}

// HandleSkip tears down the requester's current room and immediately searches
// again. Without fresh preferences the ones from the original find_match are
// reused.
func (g *Gateway) HandleSkip(connID string, msg protocol.SkipMsg) {
	if g.limited(connID, connID, ratelimit.RuleMatch) {
		return
	}

	g.teardownRoomFor(connID, true)

	var prefs *registry.Preferences
	if msg.Preferences != nil {
		prefs = &registry.Preferences{
			Gender:  msg.Preferences.Gender,
			Country: msg.Preferences.Country,
		}
	}
	if !g.findMatch(connID, prefs) {
		// The rematch failed but the teardown still changed the lobby.
		g.broadcastPresence()
	}
}

// HandleEndCall tears down the requester's current room and returns both
// occupants to the lobby. Ending an already ended call is a no-op.
func (g *Gateway) HandleEndCall(connID string, msg protocol.EndCallMsg) {
	g.teardownRoomFor(connID, true)
	g.broadcastPresence()
}

// HandleSignal relays a WebRTC offer, answer, or ICE candidate to the room's
// other occupant. The payload is opaque and forwarded untouched. Frames for
// rooms the sender is not in (stale after a skip or disconnect) are silently
// dropped.
func (g *Gateway) HandleSignal(connID string, msgType string, msg protocol.SignalMsg) {
	r := g.rooms.Get(msg.RoomID)
	if r == nil || !r.Has(connID) {
		// Stale frames are routine right after a teardown, not an error.
		return
	}

	g.send(r.Other(connID), msgType, protocol.ServerSignalMsg{
		RoomID:  msg.RoomID,
		From:    "peer",
		Payload: msg.Payload,
	})

	metrics.SignalsTotal.WithLabelValues(signalKind(msgType)).Inc()
}

// HandleSendMessage scans a chat message against the restricted-word list,
// logs it for audit, and either relays it or applies the violation policy.
// Authenticated violators receive a temporary ban and a forced disconnect;
// anonymous violators are logged but keep their connection.
func (g *Gateway) HandleSendMessage(connID string, msg protocol.SendMessageMsg) {
	if g.limited(connID, connID, ratelimit.RuleMessage) {
		return
	}

	if err := chatlog.ValidateMessage(msg.Text); err != nil {
		g.send(connID, protocol.TypeError, protocol.ErrorMsg{
			Code:    "invalid_message",
			Message: err.Error(),
		})
		return
	}

	r := g.rooms.Get(msg.RoomID)
	if r == nil || !r.Has(connID) {
		return
	}

	p := g.reg.Get(connID)
	if p == nil {
		return
	}

	if spam := moderation.CheckSpam(msg.Text); spam.Blocked {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		g.send(connID, protocol.TypeError, protocol.ErrorMsg{
			Code:    "message_blocked",
			Message: spam.Reason,
		})
		log.Printf("[gateway] spam blocked conn=%s pattern=%s", connID, spam.Pattern)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	matched := g.filter.Scan(ctx, msg.Text)
	now := time.Now().Unix()

	// Every scanned message is logged, violating or not.
	g.publishLine(&chatlog.Line{
		RoomID:       msg.RoomID,
		SenderName:   p.Name,
		Text:         msg.Text,
		IsViolation:  len(matched) > 0,
		FlaggedWords: moderation.Terms(matched),
		Ts:           now,
	})

	g.buffers.Add(msg.RoomID, chatlog.BufferedMessage{
		From: p.Name,
		Text: msg.Text,
		Ts:   now,
	})

	if len(matched) > 0 {
		g.applyViolation(connID, p, msg.RoomID, matched, now)
		return
	}

	g.send(r.Other(connID), protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
		From: p.Name,
		Text: msg.Text,
		Ts:   now,
	})
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()
}

// HandleDisconnect cleans up after a closed connection: the room is torn
// down, the remaining occupant is notified and returned to the lobby, and the
// departure is reflected in the presence broadcast.
func (g *Gateway) HandleDisconnect(connID string) {
	g.teardownRoomFor(connID, false)
	g.reg.Remove(connID)
	g.broadcastPresence()

	log.Printf("[gateway] disconnect conn=%s (online=%d)", connID, g.reg.Count())
}

// findMatch runs one match attempt for the requester and notifies both sides
// of the outcome. Returns true when a pairing happened.
func (g *Gateway) findMatch(connID string, prefs *registry.Preferences) bool {
	requester := g.reg.Get(connID)
	if requester == nil {
		g.send(connID, protocol.TypeError, protocol.ErrorMsg{
			Code:    "not_joined",
			Message: "join before requesting a match",
		})
		return false
	}

	start := time.Now()
	r, peer := g.matcher.FindMatch(connID, prefs)
	metrics.MatchDuration.Observe(time.Since(start).Seconds())

	if r == nil {
		metrics.MatchesTotal.WithLabelValues("none").Inc()
		g.send(connID, protocol.TypeNoMatchFound, protocol.NoMatchFoundMsg{
			Message: "no users available right now, try again",
		})
		return false
	}

	metrics.MatchesTotal.WithLabelValues("found").Inc()
	metrics.ActiveRooms.Set(float64(g.rooms.Count()))

	g.send(connID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		RoomID: r.ID,
		Peer:   profileOf(peer),
	})
	g.send(peer.ConnID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		RoomID: r.ID,
		Peer:   profileOf(requester),
	})

	g.broadcastPresence()

	log.Printf("[gateway] match room=%s a=%s b=%s", r.ID, connID, peer.ConnID)
	return true
}

// teardownRoomFor destroys the room connID occupies, if any, notifies the
// other occupant, and returns the occupants to the available pool. When
// releaseSelf is false (disconnect path) only the peer is released.
func (g *Gateway) teardownRoomFor(connID string, releaseSelf bool) {
	r := g.rooms.DestroyByOccupant(connID)
	if r == nil {
		return
	}

	other := r.Other(connID)
	g.reg.Release(other)
	if releaseSelf {
		g.reg.Release(connID)
	}
	g.buffers.Remove(r.ID)

	g.send(other, protocol.TypeCallEnded, protocol.CallEndedMsg{})

	metrics.ActiveRooms.Set(float64(g.rooms.Count()))
}

// applyViolation enforces the restricted-word policy. Authenticated senders
// get a short ban, the violation notice, and a forced disconnect after a
// grace period. Anonymous senders are only logged; there is no durable
// identity to ban.
func (g *Gateway) applyViolation(connID string, p *registry.Participant, roomID string, matched []moderation.Word, ts int64) {
	terms := moderation.Terms(matched)
	metrics.MessagesTotal.WithLabelValues("violation").Inc()

	userID := ""
	if p.Identity != nil {
		userID = p.Identity.UserID
	}

	g.publishViolation(&chatlog.Violation{
		UserID:          userID,
		SenderName:      p.Name,
		Words:           terms,
		DurationSeconds: banSeconds(g.banDuration, userID),
		Context:         g.buffers.Get(roomID),
		Ts:              ts,
	})

	if userID == "" {
		log.Printf("[gateway] violation by anonymous conn=%s words=%s (no ban)",
			connID, strings.Join(terms, ","))
		return
	}

	if g.bans != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		reason := "restricted language: " + strings.Join(terms, ", ")
		if err := g.bans.Ban(ctx, userID, g.banDuration, reason); err != nil {
			log.Printf("[gateway] ban failed user=%s: %v", userID, err)
		}
	}

	metrics.ViolationBansTotal.Inc()

	g.send(connID, protocol.TypeViolationBan, protocol.ViolationBanMsg{
		Message:         fmt.Sprintf("your message violated the chat rules, you are banned for %d seconds", int(g.banDuration.Seconds())),
		DurationSeconds: int(g.banDuration.Seconds()),
	})

	log.Printf("[gateway] violation ban user=%s conn=%s words=%s duration=%s",
		userID, connID, strings.Join(terms, ","), g.banDuration)

	// Give the client time to render the notice before the socket drops.
	time.AfterFunc(g.kickDelay, func() {
		g.sender.Kick(connID)
	})
}

// broadcastPresence sends the current available-participant list to every
// connection and refreshes the lobby gauge.
func (g *Gateway) broadcastPresence() {
	available := g.reg.ListAvailable()
	users := make([]protocol.PeerProfile, 0, len(available))
	for _, p := range available {
		users = append(users, profileOf(p))
	}

	metrics.AvailableUsers.Set(float64(len(users)))

	data, err := protocol.NewServerMessage(protocol.TypePresence, protocol.PresenceMsg{Users: users})
	if err != nil {
		log.Printf("[gateway] failed to build presence message: %v", err)
		return
	}
	g.sender.Broadcast(data)
}

// limited checks the rule for the identifier and, when over the limit,
// notifies the client with the retry delay. Returns true when the action must
// be dropped.
func (g *Gateway) limited(connID, identifier string, rule ratelimit.Rule) bool {
	if g.limiter == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	allowed, _ := g.limiter.Allow(ctx, identifier, rule)
	if allowed {
		return false
	}

	g.send(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: g.limiter.RetryAfter(ctx, identifier, rule),
	})
	return true
}

// publishLine hands a chat line to the audit stream. Failures are logged and
// swallowed so audit problems never affect the relay path.
func (g *Gateway) publishLine(line *chatlog.Line) {
	if g.audit == nil {
		return
	}
	if err := g.audit.PublishChatLine(line); err != nil {
		log.Printf("[gateway] audit chat line publish failed: %v", err)
	}
}

// publishViolation hands a violation record to the audit stream.
func (g *Gateway) publishViolation(v *chatlog.Violation) {
	if g.audit == nil {
		return
	}
	if err := g.audit.PublishViolation(v); err != nil {
		log.Printf("[gateway] audit violation publish failed: %v", err)
	}
}

// send marshals and delivers one server message. Delivery errors are logged;
// a dead connection is reaped by the transport's own read path.
func (g *Gateway) send(connID string, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] failed to build %s message: %v", msgType, err)
		return
	}
	if err := g.sender.Send(connID, data); err != nil {
		log.Printf("[gateway] send %s to conn=%s failed: %v", msgType, connID, err)
	}
}

// profileOf builds the public view of a participant.
func profileOf(p *registry.Participant) protocol.PeerProfile {
	return protocol.PeerProfile{
		Name:        p.Name,
		Country:     p.Country,
		Gender:      p.Gender,
		IsAnonymous: p.IsAnonymous,
	}
}

// signalKind maps a signaling message type to its metric label.
func signalKind(msgType string) string {
	switch msgType {
	case protocol.TypeOffer:
		return "offer"
	case protocol.TypeAnswer:
		return "answer"
	default:
		return "ice"
	}
}

// adminBanRemaining reports the seconds left on a profile's admin ban, or 0
// for a ban with no expiry.
func adminBanRemaining(p *directory.Profile, now time.Time) int {
	if !p.BanExpires.Valid {
		return 0
	}
	remaining := int(p.BanExpires.Time.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// banSeconds reports the ban length recorded on a violation. Anonymous
// violations record zero since no ban is applied.
func banSeconds(d time.Duration, userID string) int {
	if userID == "" {
		return 0
	}
	return int(d.Seconds())
}
