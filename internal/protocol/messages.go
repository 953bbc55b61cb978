// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
// Signaling payloads (SDP, ICE candidates) are carried as raw JSON and never
// inspected by the server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin         = "join"
	TypeFindMatch    = "find_match"
	TypeSkip         = "skip"
	TypeEndCall      = "end_call"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeSendMessage  = "send_message"
	TypePing         = "ping"
)

// Server -> Client message types. The signaling types (offer, answer,
// ice_candidate) are shared with the client->server set since the relay
// forwards them unchanged.
const (
	TypeUserJoined     = "user_joined"
	TypePresence       = "presence"
	TypeMatchFound     = "match_found"
	TypeNoMatchFound   = "no_match_found"
	TypeReceiveMessage = "receive_message"
	TypeCallEnded      = "call_ended"
	TypeViolationBan   = "violation_ban"
	TypeBanned         = "banned"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared shapes
// ---------------------------------------------------------------------------

// PeerProfile is the public view of a participant sent to other clients.
// It never carries identity tokens, emails, or internal user IDs.
type PeerProfile struct {
	Name        string `json:"name"`
	Country     string `json:"country"`
	Gender      string `json:"gender"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Preferences are optional match filters. Empty fields mean "no preference".
type Preferences struct {
	Gender  string `json:"gender,omitempty"`
	Country string `json:"country,omitempty"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg registers the connection as an available participant.
type JoinMsg struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Gender      string `json:"gender"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// FindMatchMsg requests a partner matching the given preferences.
type FindMatchMsg struct {
	Type        string      `json:"type"`
	Preferences Preferences `json:"preferences"`
}

// SkipMsg ends the current room and immediately searches for a new partner.
// Preferences are optional; when absent the ones stored on the original
// find_match request are reused.
type SkipMsg struct {
	Type        string       `json:"type"`
	RoomID      string       `json:"room_id"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// EndCallMsg ends the current room without searching again.
type EndCallMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SignalMsg carries a WebRTC offer, answer, or ICE candidate. The payload is
// opaque to the server and forwarded byte-for-byte to the room's other
// occupant.
type SignalMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// SendMessageMsg is a chat text message sent within a room.
type SendMessageMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// UserJoinedMsg confirms a successful join.
type UserJoinedMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresenceMsg carries the full list of currently available participants.
type PresenceMsg struct {
	Type  string        `json:"type"`
	Users []PeerProfile `json:"users"`
}

// MatchFoundMsg is sent to both occupants when a pairing succeeds.
type MatchFoundMsg struct {
	Type   string      `json:"type"`
	RoomID string      `json:"room_id"`
	Peer   PeerProfile `json:"peer"`
}

// NoMatchFoundMsg is sent to the requester when no compatible participant is
// available. It is informational, not an error.
type NoMatchFoundMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerSignalMsg is a relayed offer/answer/ice_candidate. From is always
// "peer"; the payload is the sender's, untouched.
type ServerSignalMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// ReceiveMessageMsg is a chat message relayed from the room's other occupant.
type ReceiveMessageMsg struct {
	Type string `json:"type"`
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// CallEndedMsg tells the remaining occupant that the room was torn down
// (skip, end_call, or the peer disconnecting).
type CallEndedMsg struct {
	Type string `json:"type"`
}

// ViolationBanMsg notifies the sender of a moderation ban before the forced
// disconnect.
type ViolationBanMsg struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	DurationSeconds int    `json:"duration_seconds"`
}

// BannedMsg rejects a connection whose identity has an active ban.
type BannedMsg struct {
	Type             string `json:"type"`
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// RateLimitedMsg is sent when the client exceeds a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndCall:
		var m EndCallMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer, TypeAnswer, TypeICECandidate:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
