package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultQueueName is the list (or task queue) per-user aggregation requests go to.
const DefaultQueueName = "user-aggregations"

// Message asks a worker to aggregate one user's staged snapshot.
type Message struct {
	EncryptedUPN      string `json:"EncryptedUPN"`
	ReportRefreshDate string `json:"ReportRefreshDate"`
	// Deliveries counts failed attempts so far. Absent on first delivery.
	Deliveries int `json:"Deliveries,omitempty"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.EncryptedUPN) == "" {
		return fmt.Errorf("queue: message has no EncryptedUPN")
	}
	if strings.TrimSpace(m.ReportRefreshDate) == "" {
		return fmt.Errorf("queue: message has no ReportRefreshDate")
	}
	return nil
}

func Encode(m Message) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func Decode(raw string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, fmt.Errorf("queue: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
