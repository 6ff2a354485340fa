package link

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Manager runs one link client per configured logic-tier target. Targets are
// independent: losing one link never disturbs the others, and shutdown waits
// for every client to stop.
type Manager struct {
	clients []*Client
	logger  *slog.Logger
}

// NewManager creates clients for a comma-separated target list.
func NewManager(targets string, opts Options, sink CommandSink, logger *slog.Logger) *Manager {
	m := &Manager{logger: logger.With("component", "link-manager")}
	for _, target := range strings.Split(targets, ",") {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		m.clients = append(m.clients, NewClient(target, opts, sink, logger))
	}
	return m
}

// Targets returns the number of configured targets.
func (m *Manager) Targets() int { return len(m.clients) }

// Run starts all clients and blocks until ctx is canceled and every client
// has returned.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range m.clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = c.Run(ctx)
		}(c)
	}
	m.logger.Info("link clients started", "targets", len(m.clients))
	wg.Wait()
}
