// pkg/types/event.go
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a registry journal event.
type EventType string

const (
	EventRegistryCreated EventType = "registry_created"
	EventTokenClaimed    EventType = "token_claimed"
)

// Event is a state change recorded in a registry journal.
type Event interface {
	EventType() EventType
}

// RegistryCreatedEvent is recorded when a claims registry is provisioned.
type RegistryCreatedEvent struct {
	Authority  Identity   `json:"authority"`
	CampaignID CampaignID `json:"campaign_id"`
	Registry   Address    `json:"registry"`
}

func (RegistryCreatedEvent) EventType() EventType { return EventRegistryCreated }

// TokenClaimedEvent is recorded when a nonce is redeemed and the transfer
// out of escrow has been authorized.
type TokenClaimedEvent struct {
	Authority   Identity   `json:"authority"`
	CampaignID  CampaignID `json:"campaign_id"`
	Registry    Address    `json:"registry"`
	Mint        Address    `json:"mint"`
	Nonce       uint64     `json:"nonce"`
	Amount      uint64     `json:"amount"`
	Destination Address    `json:"destination"`
}

func (TokenClaimedEvent) EventType() EventType { return EventTokenClaimed }

// JournalEntry is the serialized form of an Event stored as a journal leaf.
type JournalEntry struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewJournalEntry wraps ev for storage.
func NewJournalEntry(ev Event, ts time.Time) (*JournalEntry, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	return &JournalEntry{
		Type:      ev.EventType(),
		Data:      data,
		Timestamp: ts.UTC(),
	}, nil
}

// Serialize converts a JournalEntry to JSON bytes for storage.
func (e *JournalEntry) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize populates a JournalEntry from JSON bytes.
func (e *JournalEntry) Deserialize(data []byte) error {
	return json.Unmarshal(data, e)
}

// Event decodes the entry payload into its concrete event type.
func (e *JournalEntry) Event() (Event, error) {
	switch e.Type {
	case EventRegistryCreated:
		var ev RegistryCreatedEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTokenClaimed:
		var ev TokenClaimedEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
