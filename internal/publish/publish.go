// Package publish emits discrepancy reports as JSON events on message
// infrastructure: Redis pub/sub for live consumers and Kafka for durable
// downstream processing. Both publishers satisfy notify.Notifier.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// EventType labels every published payload
const EventType = "kickoff_discrepancy"

// Event is the published envelope of one report
type Event struct {
	Type        string                   `json:"type"`
	PublishedAt time.Time                `json:"published_at"`
	Report      models.DiscrepancyReport `json:"report"`
}

// Payload encodes a report as a published event
func Payload(r models.DiscrepancyReport, now time.Time) ([]byte, error) {
	data, err := json.Marshal(Event{Type: EventType, PublishedAt: now, Report: r})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report %s: %w", r.ID, err)
	}
	return data, nil
}
