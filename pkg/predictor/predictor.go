// Package predictor sizes the signed-URL cache from observed call traffic.
package predictor

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// window bounds how far back arrivals count toward a prediction.
	window = 24 * time.Hour

	// horizon is how far ahead the predictor looks.
	horizon = 2 * time.Hour

	evalInterval = 10 * time.Minute
)

// TargetSetter is the knob the predictor drives, typically the URL cache.
type TargetSetter interface {
	SetTarget(n int)
}

// Predictor keeps a 24 h histogram of call arrivals bucketed by hour of
// day and periodically resizes the URL cache for the expected volume.
type Predictor struct {
	targets TargetSetter
	now     func() time.Time

	mu       sync.Mutex
	arrivals []time.Time
}

// New creates a predictor driving the given target setter.
func New(targets TargetSetter) *Predictor {
	return &Predictor{targets: targets, now: time.Now}
}

// Record notes a call arrival.
func (p *Predictor) Record() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrivals = append(p.arrivals, p.now())
}

// PredictedVolume sums last-24h arrivals whose hour of day falls inside
// the next two hours.
func (p *Predictor) PredictedVolume() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.evictLocked(now)

	nextHours := map[int]bool{}
	for h := 0; h < int(horizon/time.Hour); h++ {
		nextHours[(now.Hour()+h)%24] = true
	}

	volume := 0
	for _, ts := range p.arrivals {
		if nextHours[ts.Hour()] {
			volume++
		}
	}
	return volume
}

// TargetFor maps predicted volume to a cache size.
func TargetFor(volume int) int {
	switch {
	case volume <= 10:
		return 3
	case volume <= 20:
		return 5
	case volume <= 50:
		return 8
	default:
		return 10
	}
}

// Evaluate recomputes the prediction and pushes the resulting target.
func (p *Predictor) Evaluate() {
	volume := p.PredictedVolume()
	target := TargetFor(volume)
	log.Printf("[Predictor] Predicted %d calls over next %s, cache target %d", volume, horizon, target)
	p.targets.SetTarget(target)
}

// Stats returns a snapshot for the status endpoint.
func (p *Predictor) Stats() (recorded int, predicted int, target int) {
	predicted = p.PredictedVolume()

	p.mu.Lock()
	recorded = len(p.arrivals)
	p.mu.Unlock()

	return recorded, predicted, TargetFor(predicted)
}

// Run re-evaluates every 10 minutes until ctx is canceled.
func (p *Predictor) Run(ctx context.Context) {
	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Evaluate()
		}
	}
}

// evictLocked drops arrivals older than the window. Caller holds mu.
func (p *Predictor) evictLocked(now time.Time) {
	cutoff := now.Add(-window)
	kept := p.arrivals[:0]
	for _, ts := range p.arrivals {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	p.arrivals = kept
}
