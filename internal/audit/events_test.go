package audit

import (
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	e := NewEvent(ActionPaymentRecorded, "treasurer-1", "club-1", "subscription s1", "installment 3")
	if e.At.IsZero() {
		t.Fatal("NewEvent() must stamp the event time")
	}
	if time.Since(e.At) > time.Minute {
		t.Errorf("NewEvent() At = %v, want recent", e.At)
	}

	data, err := e.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	decoded, err := EventFromJSON(data)
	if err != nil {
		t.Fatalf("EventFromJSON() error = %v", err)
	}
	if decoded.Action != ActionPaymentRecorded {
		t.Errorf("Action = %v, want %v", decoded.Action, ActionPaymentRecorded)
	}
	if decoded.ActorID != "treasurer-1" || decoded.ClubID != "club-1" {
		t.Errorf("actor/club = %v/%v, want treasurer-1/club-1", decoded.ActorID, decoded.ClubID)
	}
}

func TestEventFromJSON_Invalid(t *testing.T) {
	if _, err := EventFromJSON([]byte("not json")); err == nil {
		t.Error("EventFromJSON() expected error for malformed input")
	}
}
