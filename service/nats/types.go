package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

// OpportunityEvent is published to "arb.opportunities.{base_mint}".
type OpportunityEvent struct {
	engine.Opportunity
	PublishedAt time.Time `json:"published_at"`
}

// SwapEvent is published to "arb.swaps.{pool}".
type SwapEvent struct {
	tracker.SwapEvent
	PublishedAt time.Time `json:"published_at"`
}

// GraduateEvent is published to "arb.graduates.{mint}", keyed by the
// migrated token rather than wrapped SOL.
type GraduateEvent struct {
	tracker.GraduateEvent
	PublishedAt time.Time `json:"published_at"`
}

// TelemetryEvent is published to "telemetry.snapshot".
type TelemetryEvent struct {
	metrics.Snapshot
	PublishedAt time.Time `json:"published_at"`
}

func (e *OpportunityEvent) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectOpportunities, e.BaseMint)
}

func (e *SwapEvent) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectSwaps, e.Pool)
}

func (e *GraduateEvent) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectGraduates, e.Token())
}

// Token is the non-WSOL side of the new pool.
func (e *GraduateEvent) Token() string {
	if e.CoinMint.Equals(amm.WSOL) {
		return e.PcMint.String()
	}
	return e.CoinMint.String()
}

// FromOpportunity wraps an engine opportunity for publishing.
func FromOpportunity(opp engine.Opportunity) *OpportunityEvent {
	return &OpportunityEvent{Opportunity: opp, PublishedAt: time.Now().UTC()}
}

// FromSwap wraps a tracker swap event for publishing.
func FromSwap(ev tracker.SwapEvent) *SwapEvent {
	return &SwapEvent{SwapEvent: ev, PublishedAt: time.Now().UTC()}
}

// FromGraduate wraps a tracker graduate event for publishing.
func FromGraduate(ev tracker.GraduateEvent) *GraduateEvent {
	return &GraduateEvent{GraduateEvent: ev, PublishedAt: time.Now().UTC()}
}
