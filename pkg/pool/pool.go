// Package pool shares one physical connection per connection identity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kvgate/kvgate/pkg/adapters/driver"
	"github.com/kvgate/kvgate/pkg/apperrors"
	"github.com/kvgate/kvgate/pkg/identity"
	"github.com/kvgate/kvgate/pkg/logging"
)

// Pool maps identity fingerprints to exactly one connected driver.Handle and
// counts how many holders each handle has.
//
// Counts are advisory. They let a sole holder skip a remote integrity check
// and nothing else depends on them. Besides the current holder count each
// entry keeps the total number of acquisitions, which never goes down.
type Pool struct {
	mu      sync.Mutex
	factory driver.Factory
	entries map[string]*entry // key: identity fingerprint as requested
	logger  *zap.Logger

	hookOnce sync.Once
	stopHook func()
}

type entry struct {
	handle    driver.Handle
	id        identity.Identity // as built, persistence tag included
	refs      uint
	acquires  uint64 // never decremented, so a past holder stays visible
	createdAt time.Time
}

// New returns an empty pool building handles through factory.
func New(factory driver.Factory, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		factory: factory,
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Acquire returns the handle for id, creating and connecting it on first use.
// Every successful call adds one reference.
//
// A persistent identity gets a persistence tag derived from the number of
// handles in the pool before it is built. The tag is not a process-wide
// counter: it restarts at 1 after Teardown, so the next pool lifetime asks
// for the same persistent names and finds the sockets the previous one left
// open. The entry stays keyed by the identity as requested, so later
// acquirers find it.
//
// Failures wrap apperrors.ErrConnectionLost and leave the pool unchanged.
func (p *Pool) Acquire(ctx context.Context, id identity.Identity) (driver.Handle, error) {
	key := id.Fingerprint()

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		e.refs++
		e.acquires++
		return e.handle, nil
	}

	build := id
	if id.Persistent {
		build = id.WithPersistenceTag(strconv.Itoa(len(p.entries) + 1))
	}

	h, err := p.factory.NewHandle(ctx, build)
	if err != nil {
		p.logger.Error("failed to build handle",
			zap.String("identity", build.String()),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("%w: build handle for %s: %w", apperrors.ErrConnectionLost, build, err)
	}

	if _, err := h.Connect(ctx); err != nil {
		p.logger.Warn("failed to connect",
			zap.String("identity", build.String()),
			zap.String("family", string(h.Identify())),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConnectionLost, err)
	}

	p.entries[key] = &entry{
		handle:    h,
		id:        build,
		refs:      1,
		acquires:  1,
		createdAt: time.Now(),
	}

	p.logger.Info("created pooled handle",
		zap.String("identity", build.String()),
		zap.String("family", string(h.Identify())),
		zap.Int("handles", len(p.entries)),
	)
	return h, nil
}

// AcquireCount returns the number of holders of id's handle, or
// apperrors.ErrNotFound when the pool has no handle for id.
func (p *Pool) AcquireCount(id identity.Identity) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id.Fingerprint()]
	if !ok {
		return 0, fmt.Errorf("%w: no pooled handle for %s", apperrors.ErrNotFound, id)
	}
	return e.refs, nil
}

// Acquisitions returns how many times h was acquired under id since it was
// built, released holders included. A value of 1 means the caller's own
// acquisition is the only one, so no other Gateway can have moved the shared
// connection. apperrors.ErrNotFound when the pool has no handle for id or has
// rebuilt it since h was handed out.
func (p *Pool) Acquisitions(id identity.Identity, h driver.Handle) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id.Fingerprint()]
	if !ok || e.handle != h {
		return 0, fmt.Errorf("%w: no pooled handle for %s", apperrors.ErrNotFound, id)
	}
	return e.acquires, nil
}

// Release drops one reference to id's handle. The count never goes below
// zero and the handle stays pooled until Teardown.
func (p *Pool) Release(id identity.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id.Fingerprint()]
	if !ok {
		p.logger.Debug("release of unknown identity", zap.String("identity", id.String()))
		return
	}
	if e.refs > 0 {
		e.refs--
	}
}

// Teardown disconnects every non-persistent handle and clears all
// bookkeeping. Persistent handles are forgotten but stay connected so a later
// pool lifetime can pick the socket up again.
// Safe on an empty pool and safe to call repeatedly.
func (p *Pool) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return nil
	}

	var errs []error
	kept := 0
	for _, e := range p.entries {
		if e.handle.Persistent() {
			kept++
			continue
		}
		if err := e.handle.Disconnect(); err != nil {
			p.logger.Warn("failed to disconnect handle",
				zap.String("identity", e.id.String()),
				zap.String("error", logging.SanitizeError(err)),
			)
			errs = append(errs, fmt.Errorf("disconnect %s: %w", e.id, err))
		}
	}

	closed := len(p.entries) - kept
	p.entries = make(map[string]*entry)

	p.logger.Info("pool torn down",
		zap.Int("disconnected", closed),
		zap.Int("persistentKept", kept),
	)
	return errors.Join(errs...)
}

// RegisterShutdownHook tears the pool down on SIGINT, SIGTERM, cancellation
// of ctx, or a call to the returned stop function, whichever comes first.
// Only the first registration takes effect; later calls return the same stop.
// stop blocks until teardown has finished.
func (p *Pool) RegisterShutdownHook(ctx context.Context) (stop func()) {
	p.hookOnce.Do(func() {
		sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		done := make(chan struct{})

		go func() {
			defer close(done)
			<-sigCtx.Done()
			if err := p.Teardown(); err != nil {
				p.logger.Error("teardown on shutdown", zap.String("error", logging.SanitizeError(err)))
			}
		}()

		var once sync.Once
		p.stopHook = func() {
			once.Do(func() {
				cancel()
				<-done
			})
		}
	})
	return p.stopHook
}

// Stats describes the pool contents.
type Stats struct {
	Handles           int                   `json:"handles" yaml:"handles"`
	PersistentHandles int                   `json:"persistent_handles" yaml:"persistent_handles"`
	References        uint                  `json:"references" yaml:"references"`
	ByFamily          map[driver.Family]int `json:"by_family" yaml:"by_family"`
	OldestAgeSeconds  int                   `json:"oldest_age_seconds" yaml:"oldest_age_seconds"`
}

// Stats returns a snapshot of the pool. Safe to call concurrently.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	stats := Stats{
		Handles:  len(p.entries),
		ByFamily: make(map[driver.Family]int),
	}
	for _, e := range p.entries {
		if e.handle.Persistent() {
			stats.PersistentHandles++
		}
		stats.References += e.refs
		stats.ByFamily[e.handle.Identify()]++
		if age := int(now.Sub(e.createdAt).Seconds()); age > stats.OldestAgeSeconds {
			stats.OldestAgeSeconds = age
		}
	}
	return stats
}
