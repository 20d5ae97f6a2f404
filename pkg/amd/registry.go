// Package amd correlates answering-machine detection results with call
// sessions.
//
// The Telco reports AMD asynchronously on the status callback; the media
// stream may bind before or after that report. The registry keeps the
// classification until a session consumes it, arms a finalize watchdog for
// machine answers, and garbage-collects entries no session ever claims.
package amd

import (
	"context"
	"log"
	"sync"
	"time"
)

// Classification is the Telco-reported answering party type.
type Classification string

const (
	Human             Classification = "human"
	MachineStart      Classification = "machine_start"
	MachineEndBeep    Classification = "machine_end_beep"
	MachineEndSilence Classification = "machine_end_silence"
	MachineEndOther   Classification = "machine_end_other"
	Fax               Classification = "fax"
	Unknown           Classification = "unknown"
)

// ParseClassification maps the Telco's AnsweredBy value.
func ParseClassification(answeredBy string) Classification {
	switch answeredBy {
	case "human":
		return Human
	case "machine_start":
		return MachineStart
	case "machine_end_beep":
		return MachineEndBeep
	case "machine_end_silence":
		return MachineEndSilence
	case "machine_end_other":
		return MachineEndOther
	case "fax":
		return Fax
	default:
		return Unknown
	}
}

// IsMachine reports whether the classification means no human answered.
func (c Classification) IsMachine() bool {
	switch c {
	case MachineStart, MachineEndBeep, MachineEndSilence, MachineEndOther, Fax:
		return true
	}
	return false
}

const (
	// finalizeAfter bounds how long a machine-answered call may run.
	finalizeAfter = 60 * time.Second

	// gcAfter drops classifications no session ever consumed.
	gcAfter = 10 * time.Minute

	gcInterval = time.Minute
)

// Finalizer ends a call via the Telco SDK. Implementations must be
// idempotent for already-completed calls.
type Finalizer interface {
	EndCall(callSid string) error
}

type record struct {
	classification Classification
	arrivedAt      time.Time
}

// Registry is the process-wide call id to AMD classification map.
type Registry struct {
	finalizer Finalizer

	mu      sync.Mutex
	records map[string]*record
}

// NewRegistry creates a registry that finalizes machine-answered calls
// through the given finalizer.
func NewRegistry(finalizer Finalizer) *Registry {
	return &Registry{
		finalizer: finalizer,
		records:   make(map[string]*record),
	}
}

// Record stores the classification for callSid, first-write-wins, and
// returns the stable classification. A machine classification arms a
// watchdog that finalizes the call even if no session ever binds.
func (r *Registry) Record(callSid, answeredBy string) Classification {
	classification := ParseClassification(answeredBy)

	r.mu.Lock()
	if existing, ok := r.records[callSid]; ok {
		r.mu.Unlock()
		return existing.classification
	}
	r.records[callSid] = &record{classification: classification, arrivedAt: time.Now()}
	r.mu.Unlock()

	if classification.IsMachine() {
		log.Printf("[AMD] Call %s answered by %s, arming %s finalize watchdog", callSid, classification, finalizeAfter)
		r.armWatchdog(callSid)
	}
	return classification
}

// armWatchdog finalizes the call after the deadline. The timer outlives
// the registry entry on purpose: EndCall is idempotent, and the guarantee
// holds whether or not a session consumed the classification.
func (r *Registry) armWatchdog(callSid string) {
	time.AfterFunc(finalizeAfter, func() {
		if err := r.finalizer.EndCall(callSid); err != nil {
			log.Printf("[AMD] Watchdog failed to finalize call %s: %v", callSid, err)
		}
	})
}

// Take consumes the classification for callSid, if present.
func (r *Registry) Take(callSid string) (Classification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[callSid]
	if !ok {
		return Unknown, false
	}
	delete(r.records, callSid)
	return rec.classification, true
}

// Size returns the number of unconsumed classifications.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Run garbage-collects unconsumed entries until ctx is canceled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.gc()
		}
	}
}

func (r *Registry) gc() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for callSid, rec := range r.records {
		if time.Since(rec.arrivedAt) >= gcAfter {
			delete(r.records, callSid)
			log.Printf("[AMD] Dropped unconsumed classification for call %s", callSid)
		}
	}
}
