package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","name":"Alice","country":"US","gender":"female","is_anonymous":false}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Name != "Alice" || jm.Country != "US" || jm.Gender != "female" {
		t.Errorf("unexpected fields: %+v", jm)
	}
	if jm.IsAnonymous {
		t.Error("expected is_anonymous=false")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a find_match message with preferences
// ---------------------------------------------------------------------------

func TestParseClientMessage_FindMatch(t *testing.T) {
	input := []byte(`{"type":"find_match","preferences":{"gender":"female","country":"FR"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFindMatch {
		t.Fatalf("expected type %q, got %q", TypeFindMatch, msgType)
	}

	fm, ok := msg.(FindMatchMsg)
	if !ok {
		t.Fatalf("expected FindMatchMsg, got %T", msg)
	}
	if fm.Preferences.Gender != "female" {
		t.Errorf("expected gender preference %q, got %q", "female", fm.Preferences.Gender)
	}
	if fm.Preferences.Country != "FR" {
		t.Errorf("expected country preference %q, got %q", "FR", fm.Preferences.Country)
	}
}

func TestParseClientMessage_FindMatchEmptyPreferences(t *testing.T) {
	input := []byte(`{"type":"find_match","preferences":{}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fm := msg.(FindMatchMsg)
	if fm.Preferences.Gender != "" || fm.Preferences.Country != "" {
		t.Errorf("expected empty preferences, got %+v", fm.Preferences)
	}
}

// ---------------------------------------------------------------------------
// Test: Signaling messages keep their payload opaque
// ---------------------------------------------------------------------------

func TestParseClientMessage_Signaling(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
	}{
		{"offer", TypeOffer},
		{"answer", TypeAnswer},
		{"ice candidate", TypeICECandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1","custom":{"nested":true}}`
			input := []byte(`{"type":"` + tt.msgType + `","room_id":"room-1","payload":` + payload + `}`)

			msgType, msg, err := ParseClientMessage(input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tt.msgType {
				t.Fatalf("expected type %q, got %q", tt.msgType, msgType)
			}

			sm, ok := msg.(SignalMsg)
			if !ok {
				t.Fatalf("expected SignalMsg, got %T", msg)
			}
			if sm.RoomID != "room-1" {
				t.Errorf("expected room_id %q, got %q", "room-1", sm.RoomID)
			}

			// The raw payload must survive a decode round-trip untouched.
			var got, want interface{}
			if err := json.Unmarshal(sm.Payload, &got); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(payload), &want); err != nil {
				t.Fatal(err)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("payload mangled: got %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","room_id":"abc-123","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.RoomID != "abc-123" {
		t.Errorf("expected room_id %q, got %q", "abc-123", sm.RoomID)
	}
	if sm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", sm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Skip with and without fresh preferences
// ---------------------------------------------------------------------------

func TestParseClientMessage_Skip(t *testing.T) {
	t.Run("without preferences", func(t *testing.T) {
		input := []byte(`{"type":"skip","room_id":"r1"}`)
		_, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sk := msg.(SkipMsg)
		if sk.RoomID != "r1" {
			t.Errorf("expected room_id r1, got %q", sk.RoomID)
		}
		if sk.Preferences != nil {
			t.Errorf("expected nil preferences, got %+v", sk.Preferences)
		}
	})

	t.Run("with preferences", func(t *testing.T) {
		input := []byte(`{"type":"skip","room_id":"r1","preferences":{"country":"DE"}}`)
		_, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sk := msg.(SkipMsg)
		if sk.Preferences == nil {
			t.Fatal("expected preferences, got nil")
		}
		if sk.Preferences.Country != "DE" {
			t.Errorf("expected country DE, got %q", sk.Preferences.Country)
		}
	})
}

// ---------------------------------------------------------------------------
// Test: Creating a match_found server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MatchFound(t *testing.T) {
	payload := MatchFoundMsg{
		RoomID: "uuid-456",
		Peer: PeerProfile{
			Name:        "Bob",
			Country:     "FR",
			Gender:      "male",
			IsAnonymous: true,
		},
	}

	data, err := NewServerMessage(TypeMatchFound, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMatchFound {
		t.Errorf("expected type %q, got %v", TypeMatchFound, result["type"])
	}
	if result["room_id"] != "uuid-456" {
		t.Errorf("expected room_id %q, got %v", "uuid-456", result["room_id"])
	}

	peer, ok := result["peer"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected peer to be an object, got %T", result["peer"])
	}
	if peer["name"] != "Bob" {
		t.Errorf("expected peer name Bob, got %v", peer["name"])
	}
	if peer["is_anonymous"] != true {
		t.Errorf("expected is_anonymous=true, got %v", peer["is_anonymous"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "unknown_type" {
		t.Errorf("expected type to be returned even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field is rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"room_id":"r1"}`),
		[]byte(`{"type":""}`),
		[]byte(`not json at all`),
		[]byte(``),
	}

	for _, input := range inputs {
		if _, _, err := ParseClientMessage(input); err == nil {
			t.Errorf("ParseClientMessage(%q): expected error, got nil", input)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Server messages never leak non-public profile fields
// ---------------------------------------------------------------------------

func TestNewServerMessage_PresenceProfileFields(t *testing.T) {
	data, err := NewServerMessage(TypePresence, PresenceMsg{
		Users: []PeerProfile{{Name: "Carol", Country: "JP", Gender: "female"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	users := result["users"].([]interface{})
	user := users[0].(map[string]interface{})

	allowed := map[string]bool{"name": true, "country": true, "gender": true, "is_anonymous": true}
	for k := range user {
		if !allowed[k] {
			t.Errorf("unexpected profile field %q leaked to clients", k)
		}
	}
}
