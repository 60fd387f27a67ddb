package audit

import (
	"encoding/json"
	"time"
)

// Event describes one successful state transition for the audit
// collaborator. Delivery is best-effort; the ledger transaction that
// produced the event has already committed.
type Event struct {
	Action  string    `json:"action"`
	ActorID string    `json:"actor_id"`
	ClubID  string    `json:"club_id"`
	Target  string    `json:"target"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

const (
	ActionYearCreated     = "year.created"
	ActionYearUpdated     = "year.updated"
	ActionYearClosed      = "year.closed"
	ActionScheduleChanged = "schedule.changed"
	ActionSubCreated      = "subscription.created"
	ActionPaymentRecorded = "payment.recorded"
	ActionRecordCreated   = "record.created"
	ActionRecordDeleted   = "record.deleted"
	ActionExpenseReviewed = "expense.reviewed"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(action, actorID, clubID, target, details string) Event {
	return Event{
		Action:  action,
		ActorID: actorID,
		ClubID:  clubID,
		Target:  target,
		Details: details,
		At:      time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON parses an event from JSON bytes.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
