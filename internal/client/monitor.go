package client

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultHealthInterval is how often Monitor polls the health endpoint.
const DefaultHealthInterval = 60 * time.Second

// Monitor polls the server's health and tracks reachability. It starts out
// assuming the server is online.
type Monitor struct {
	client   *Client
	interval time.Duration
	onChange func(online bool)
	online   atomic.Bool
}

// NewMonitor creates a monitor. onChange, if set, is called on every
// transition.
func NewMonitor(c *Client, interval time.Duration, onChange func(online bool)) *Monitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	m := &Monitor{client: c, interval: interval, onChange: onChange}
	m.online.Store(true)
	return m
}

// Online returns the last observed state.
func (m *Monitor) Online() bool { return m.online.Load() }

// Check polls once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.client.CheckServerStatus(ctx)
	if prev := m.online.Swap(online); prev != online {
		slog.Info("Server status changed", "server_url", m.client.BaseURL(), "online", online)
		if m.onChange != nil {
			m.onChange(online)
		}
	}
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
