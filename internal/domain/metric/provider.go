package metric

import (
	"context"
	"fmt"
	"sync"
)

// Provider returns the current scalar value for a metric type. The metrics
// pipeline itself (ingestion, aggregation, raw series storage) lives behind
// this contract.
type Provider interface {
	// CurrentValue returns the current numeric value for a metric type and
	// optional scope (e.g. a host or resource identifier)
	CurrentValue(ctx context.Context, metricType, scope string) (float64, error)
}

// StaticProvider is a Provider backed by an in-memory value table. Values are
// pushed by an external collector and read by the evaluator.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewStaticProvider creates an empty static provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{values: make(map[string]float64)}
}

// Set stores the current value for a metric type and scope
func (p *StaticProvider) Set(metricType, scope string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key(metricType, scope)] = value
}

// CurrentValue implements Provider
func (p *StaticProvider) CurrentValue(_ context.Context, metricType, scope string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key(metricType, scope)]
	if !ok {
		return 0, fmt.Errorf("no value recorded for metric %q scope %q", metricType, scope)
	}
	return v, nil
}

func key(metricType, scope string) string {
	if scope == "" {
		return metricType
	}
	return metricType + "/" + scope
}
