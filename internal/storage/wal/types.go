package wal

import (
	"encoding/json"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// ============================================================================
// WAL Type Definitions
// Responsibility: Define core data structures for the mutation journal
// ============================================================================

// EventType defines journal event types, one per accepted mutation
type EventType string

const (
	EventAddWorker      EventType = "ADD_WORKER"      // Worker added to roster
	EventRemoveWorker   EventType = "REMOVE_WORKER"   // Worker removed (optionally cascading)
	EventCreateModel    EventType = "CREATE_MODEL"    // Product model defined
	EventAddPost        EventType = "ADD_POST"        // Post registered
	EventRemovePost     EventType = "REMOVE_POST"     // Post removed
	EventAssign         EventType = "ASSIGN"          // Worker placed on (date, post)
	EventUnassign       EventType = "UNASSIGN"        // (date, post) cleared
	EventCreateOrder    EventType = "CREATE_ORDER"    // Order created
	EventRecordProgress EventType = "RECORD_PROGRESS" // Daily progress recorded
)

// Event represents a journal record
type Event struct {
	Seq       uint64          `json:"seq"`       // Event sequence number (monotonically increasing, survives rotation)
	Type      EventType       `json:"type"`      // Event type
	Today     types.Date      `json:"today"`     // Operational date the mutation was accepted on
	Payload   json.RawMessage `json:"payload"`   // Mutation arguments
	Timestamp int64           `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32          `json:"checksum"`  // CRC32 checksum
}

// Decode unmarshals the payload into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler is the function type for processing journal events.
// Replay stops at the first handler error.
type EventHandler func(event Event) error
