// pkg/types/event_test.go
package types

import (
	"testing"
	"time"
)

func TestJournalEntry_RoundTrip(t *testing.T) {
	registry := Address{1, 2, 3}
	mint := Address{9}
	ev := TokenClaimedEvent{
		Authority:   "did:key:z6MkAuthority",
		CampaignID:  7,
		Registry:    registry,
		Mint:        mint,
		Nonce:       42,
		Amount:      1000,
		Destination: Address{4},
	}

	entry, err := NewJournalEntry(ev, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("failed to build entry: %v", err)
	}

	data, err := entry.Serialize()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	var restored JournalEntry
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("failed to deserialize: %v", err)
	}
	if restored.Type != EventTokenClaimed {
		t.Errorf("type mismatch: got %s, want %s", restored.Type, EventTokenClaimed)
	}
	if !restored.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", restored.Timestamp, entry.Timestamp)
	}

	decoded, err := restored.Event()
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	got, ok := decoded.(TokenClaimedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", decoded)
	}
	if got != ev {
		t.Errorf("event mismatch: got %+v, want %+v", got, ev)
	}
}

func TestJournalEntry_UnknownType(t *testing.T) {
	entry := JournalEntry{Type: "bogus", Data: []byte(`{}`)}
	if _, err := entry.Event(); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
