package amqp

import (
	"encoding/json"
	"time"

	"odzai/internal/storage"
)

// StorageChangeMessage carries one durable-tier change between instances.
// Value is nil for a removal; Cleared marks a whole-tier clear.
type StorageChangeMessage struct {
	Key       string    `json:"key,omitempty"`
	Value     *string   `json:"value,omitempty"`
	Cleared   bool      `json:"cleared,omitempty"`
	Origin    string    `json:"origin"`
	Timestamp int64     `json:"timestamp"`
	SentAt    time.Time `json:"sent_at"`
}

// NewStorageChangeMessage wraps a storage change for publishing
func NewStorageChangeMessage(ch storage.Change) *StorageChangeMessage {
	return &StorageChangeMessage{
		Key:       ch.Key,
		Value:     ch.Value,
		Cleared:   ch.Cleared,
		Origin:    ch.Origin,
		Timestamp: ch.Timestamp,
		SentAt:    time.Now(),
	}
}

// Change converts the message back into a durable-tier storage change.
func (m *StorageChangeMessage) Change() storage.Change {
	return storage.Change{
		Key:       m.Key,
		Value:     m.Value,
		Tier:      storage.Durable,
		Cleared:   m.Cleared,
		Origin:    m.Origin,
		Timestamp: m.Timestamp,
	}
}

// ToJSON converts the message to JSON bytes
func (m *StorageChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// StorageChangeMessageFromJSON creates a message from JSON bytes
func StorageChangeMessageFromJSON(data []byte) (*StorageChangeMessage, error) {
	var msg StorageChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
