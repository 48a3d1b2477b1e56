// Package audit defines the append-only journal entry written for every
// applied pixel edit.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only audit record, per spec.md §3 AuditEntry.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Details   Details   `json:"details"`
	IP        string    `json:"ip,omitempty"`
}

// Details is the "what happened" payload of an Entry.
type Details struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
	Tool  string `json:"tool"`
}

// Action values recorded by the Applier.
const (
	ActionPixelApplied = "pixel_applied"
)

// NewPixelApplied builds the audit entry for one successfully applied
// pixel edit. ID uses a random UUID (google/uuid) rather than a sequence
// number, matching the rest of the pack's convention for externally
// visible record identifiers.
func NewPixelApplied(now time.Time, userID, ip string, x, y int, color, tool string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		UserID:    userID,
		Action:    ActionPixelApplied,
		Details: Details{
			X:     x,
			Y:     y,
			Color: color,
			Tool:  tool,
		},
		IP: ip,
	}
}
