package telemetry

import (
	"context"
	"sync"

	"fleet-route-service/internal/ports"
)

// StaticProvider serves a fixed unit list. Used in tests and local development.
type StaticProvider struct {
	mu    sync.Mutex
	units []ports.LiveUnit
	err   error
	calls int
}

func NewStaticProvider(units ...ports.LiveUnit) *StaticProvider {
	return &StaticProvider{units: units}
}

func (p *StaticProvider) SetUnits(units ...ports.LiveUnit) {
	p.mu.Lock()
	p.units = units
	p.mu.Unlock()
}

// SetError makes every fetch fail with err until cleared with nil.
func (p *StaticProvider) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *StaticProvider) FetchLiveUnits(ctx context.Context) ([]ports.LiveUnit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]ports.LiveUnit(nil), p.units...), nil
}
