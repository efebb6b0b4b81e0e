// Package health aggregates dependency probes into one service report.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status of a component or of the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Component is the probe result for one dependency.
type Component struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the aggregated service health.
type Report struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// Probe checks one dependency. A nil return means healthy.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Aggregator runs probes concurrently with a per-probe timeout.
type Aggregator struct {
	probes  []Probe
	timeout time.Duration
}

// New builds an Aggregator. timeout bounds each individual probe; values
// below 1ms fall back to 2s.
func New(timeout time.Duration, probes ...Probe) *Aggregator {
	if timeout < time.Millisecond {
		timeout = 2 * time.Second
	}
	return &Aggregator{probes: probes, timeout: timeout}
}

// CheckAll runs every probe and folds the results. The report is healthy
// only when every component is. A panicking probe counts as unhealthy, not
// as a crashed health endpoint.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	type outcome struct {
		name string
		comp Component
	}
	results := make(chan outcome, len(a.probes))

	var wg sync.WaitGroup
	for _, p := range a.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			results <- outcome{name: p.Name, comp: a.run(ctx, p)}
		}(p)
	}
	wg.Wait()
	close(results)

	report := Report{
		Status:     StatusHealthy,
		Components: make(map[string]Component, len(a.probes)),
		CheckedAt:  time.Now().UTC(),
	}
	for r := range results {
		report.Components[r.name] = r.comp
		if r.comp.Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func (a *Aggregator) run(ctx context.Context, p Probe) (comp Component) {
	defer func() {
		if rec := recover(); rec != nil {
			comp = Component{Status: StatusUnhealthy, Message: fmt.Sprintf("probe panic: %v", rec)}
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := p.Check(probeCtx); err != nil {
		return Component{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Component{Status: StatusHealthy}
}

// Names lists the registered probes, sorted.
func (a *Aggregator) Names() []string {
	out := make([]string, 0, len(a.probes))
	for _, p := range a.probes {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}
