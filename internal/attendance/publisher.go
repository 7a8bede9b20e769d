package attendance

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"presence/internal/metrics"
)

// Publisher owns the rotation loop for one lecture. It is an explicit state
// machine: idle when cancel is nil, publishing otherwise. Start while already
// publishing cancels the prior loop before establishing the new one, so a
// publisher never runs two loops at once.
//
// Tokens outlive the rotation cadence on purpose: with the default 10s
// interval and 60s validity there is always a live token, no dead window.
type Publisher struct {
	svc       *Service
	lectureID string
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPublisher creates an idle publisher for one lecture.
func NewPublisher(svc *Service, lectureID string, interval time.Duration) *Publisher {
	return &Publisher{svc: svc, lectureID: lectureID, interval: interval}
}

// Start performs one synchronous publish so the caller can render the QR
// immediately, then rotates in the background until Stop. Restarting is safe:
// the previous loop is cancelled first.
func (p *Publisher) Start(ctx context.Context, name string, ttl time.Duration) (Session, error) {
	if p.lectureID == "" {
		return Session{}, errors.New("lecture id required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	sess, err := p.svc.PublishOnce(ctx, p.lectureID, name, ttl)
	if err != nil {
		return Session{}, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.rotate(loopCtx, name, ttl)
	return sess, nil
}

// rotate re-mints on the fixed cadence. A failed tick is logged and counted,
// never fatal: the next tick retries independently.
func (p *Publisher) rotate(ctx context.Context, name string, ttl time.Duration) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.svc.PublishOnce(ctx, p.lectureID, name, ttl); err != nil {
				metrics.RotationFailures.Inc()
				log.Printf("lecture %s: rotation tick failed: %v", p.lectureID, err)
			}
		}
	}
}

// Stop cancels the rotation loop. Idempotent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Publishing reports whether a rotation loop is active.
func (p *Publisher) Publishing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Manager keys one publisher per lecture for the HTTP layer.
type Manager struct {
	svc      *Service
	interval time.Duration

	mu   sync.Mutex
	pubs map[string]*Publisher
}

// NewManager creates an empty publisher registry.
func NewManager(svc *Service, interval time.Duration) *Manager {
	return &Manager{svc: svc, interval: interval, pubs: make(map[string]*Publisher)}
}

// Start begins (or restarts) publication for a lecture.
func (m *Manager) Start(ctx context.Context, lectureID, name string, ttl time.Duration) (Session, error) {
	if lectureID == "" {
		return Session{}, errors.New("lecture id required")
	}
	m.mu.Lock()
	pub, ok := m.pubs[lectureID]
	if !ok {
		pub = NewPublisher(m.svc, lectureID, m.interval)
		m.pubs[lectureID] = pub
	}
	m.mu.Unlock()
	return pub.Start(ctx, name, ttl)
}

// Stop halts the lecture's rotation loop and clears its credential. Safe to
// call when nothing is publishing.
func (m *Manager) Stop(ctx context.Context, lectureID string) error {
	m.mu.Lock()
	pub, ok := m.pubs[lectureID]
	m.mu.Unlock()
	if ok {
		pub.Stop()
	}
	return m.svc.Stop(ctx, lectureID)
}

// StopAll cancels every rotation loop, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pub := range m.pubs {
		pub.Stop()
	}
}
