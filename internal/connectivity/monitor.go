package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Monitor probes a health URL on a cron schedule. Any HTTP response counts
// as online; transport errors count as offline.
type Monitor struct {
	healthURL  string
	interval   time.Duration
	httpClient *http.Client
	cron       *cron.Cron
	online     atomic.Bool
	subs       subscribers
	logger     arbor.ILogger

	mu      sync.Mutex
	running bool
}

func NewMonitor(healthURL string, interval, timeout time.Duration, logger arbor.ILogger) *Monitor {
	return &Monitor{
		healthURL:  healthURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		cron:       cron.New(),
		logger:     logger,
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) Subscribe(fn func()) func() {
	return m.subs.add(fn)
}

// Start probes once to seed the state, then on every interval
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("connectivity monitor already running")
	}

	m.online.Store(m.reachable(ctx))

	schedule := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(schedule, func() { m.Probe(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule connectivity probe: %w", err)
	}
	m.cron.Start()
	m.running = true

	m.logger.Info().
		Str("health_url", m.healthURL).
		Str("interval", m.interval.String()).
		Bool("online", m.Online()).
		Msg("Connectivity monitor started")
	return nil
}

// Stop halts probing and waits for a running probe to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
}

// Probe checks the health URL once and notifies subscribers if the API just came back
func (m *Monitor) Probe(ctx context.Context) {
	online := m.reachable(ctx)
	was := m.online.Swap(online)
	switch {
	case online && !was:
		m.logger.Info().Str("health_url", m.healthURL).Msg("Connectivity restored")
		m.subs.notify()
	case !online && was:
		m.logger.Warn().Str("health_url", m.healthURL).Msg("Connectivity lost")
	}
}

func (m *Monitor) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Str("health_url", m.healthURL).Msg("Health probe failed")
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}
