// Package connectivity turns periodic HTTP probes into "came back online" signals.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"resty.dev/v3"
)

const DefaultTimeout = 5 * time.Second

// Monitor probes a URL and signals on Online every time the result changes from
// offline to online. It starts out assuming it is online.
type Monitor struct {
	client *resty.Client
	url    string

	mu     sync.Mutex
	online bool
	events chan struct{}
}

// NewMonitor creates a Monitor for probeURL. An empty probeURL disables probing
// and the monitor always reports online.
func NewMonitor(probeURL string) *Monitor {
	return newMonitor(resty.New().SetTimeout(DefaultTimeout), probeURL)
}

func newMonitor(client *resty.Client, probeURL string) *Monitor {
	return &Monitor{
		client: client,
		url:    probeURL,
		online: true,
		events: make(chan struct{}, 1),
	}
}

func (m *Monitor) Close() error {
	return m.client.Close()
}

// Online delivers one value per offline to online transition. Transitions that
// happen while a previous one is still unread are coalesced.
func (m *Monitor) Online() <-chan struct{} {
	return m.events
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once and returns whether the target answered.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.url == "" {
		return true
	}
	online := m.probe(ctx)

	m.mu.Lock()
	cameOnline := online && !m.online
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		slog.Default().Info("connectivity changed", "online", online, "url", m.url)
	}
	if cameOnline {
		select {
		case m.events <- struct{}{}:
		default:
		}
	}
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	response, err := m.client.R().
		SetContext(ctx).
		Head(m.url)
	if err != nil {
		slog.Default().Debug("connectivity probe failed", "url", m.url, "error", err)
		return false
	}
	return response.StatusCode() < http.StatusInternalServerError
}
