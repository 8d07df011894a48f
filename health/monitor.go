package health

import (
	"context"
	"os"
	"sort"
	"sync"
)

// Check probes one dependency.
type Check func(ctx context.Context) Status

// Monitor runs a set of named checks and aggregates their results.
type Monitor struct {
	name   string
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor reporting as name.
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:   name,
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for a named component.
func (m *Monitor) Register(component string, c Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = c
}

// Remove drops a component's check.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, component)
}

// Components returns the checked component names in order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check and returns the aggregate.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	subs := make([]Status, 0, len(checks))
	for name, c := range checks {
		st := c(ctx)
		st.Component = name
		subs = append(subs, st)
	}
	return Aggregate(m.name, subs)
}

// DirCheck reports whether dir exists and is a directory. failState is the
// state reported when it is not.
func DirCheck(dir, failState string) Check {
	return func(_ context.Context) Status {
		fi, err := os.Stat(dir)
		switch {
		case err != nil:
			return newStatus("", failState, err.Error())
		case !fi.IsDir():
			return newStatus("", failState, "not a directory")
		}
		return NewHealthy("", "")
	}
}

// FuncCheck adapts a (state, ok) probe such as a broker connection status.
// The state string becomes the message.
func FuncCheck(probe func() (string, bool), failState string) Check {
	return func(_ context.Context) Status {
		state, ok := probe()
		if ok {
			return NewHealthy("", state)
		}
		return newStatus("", failState, state)
	}
}
