package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/example/court-scheduler/internal/credential"
)

// Outcome classifies a single reservation attempt.
type Outcome string

const (
	// OutcomeSuccess means the slot was booked.
	OutcomeSuccess Outcome = "success"
	// OutcomeSlotUnavailable means the portal rejected the order for this
	// slot. Check Result.StillAllocating before treating it as final.
	OutcomeSlotUnavailable Outcome = "slot_unavailable"
	// OutcomeAuthExpired means the portal no longer accepts the credential.
	OutcomeAuthExpired Outcome = "auth_expired"
	// OutcomeTransient covers network failures, timeouts and server errors
	// that are worth retrying with the same credential.
	OutcomeTransient Outcome = "transient_error"
)

// Slot identifies one court and time window on a booking date. The scheduler
// and registry treat it as opaque; only the portal client reads the fields.
type Slot struct {
	VenueNo     string `json:"venue_no"`
	FieldNo     string `json:"field_no"`
	FieldTypeNo string `json:"field_type_no"`
	FieldName   string `json:"field_name"`
	// BeginTime/EndTime are portal-local HH:MM strings, e.g. "18:00".
	BeginTime string    `json:"begin_time"`
	EndTime   string    `json:"end_time"`
	Price     string    `json:"price"`
	Date      time.Time `json:"date"`
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s %s-%s", s.FieldName, s.Date.Format("2006-01-02"), s.BeginTime, s.EndTime)
}

func (s Slot) Validate() error {
	if s.FieldNo == "" {
		return fmt.Errorf("field_no required")
	}
	if s.FieldTypeNo == "" {
		return fmt.Errorf("field_type_no required")
	}
	if s.BeginTime == "" || s.EndTime == "" {
		return fmt.Errorf("begin_time and end_time required")
	}
	if s.Date.IsZero() {
		return fmt.Errorf("date required")
	}
	return nil
}

// Result is the structured outcome of one attempt.
type Result struct {
	Outcome Outcome
	// Detail carries the portal's message or the order id on success.
	Detail string
	// StillAllocating is set when the portal reports the slot contended
	// while the allocation window is still open ("too slow" responses).
	// Such attempts are retried regardless of the unavailable-retry policy.
	StillAllocating bool
}

// Client performs a single reservation attempt. Implementations must be safe
// to retry on OutcomeTransient; the portal, not the caller, guarantees no
// double booking from a retried order.
type Client interface {
	Reserve(ctx context.Context, cred credential.Credential, slot Slot) Result
}
