package wizard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 10 * time.Second

// Resolver performs prefill lookups. Concurrent lookups of the same mobile
// share one backend request, which runs until its last waiter leaves or the
// resolver timeout passes. Lookup failures are never returned: the caller
// continues down the new-customer path.
type Resolver struct {
	backend  Backend
	group    singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the callers waiting on one shared lookup.
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

// NewResolver wraps a backend. A non-positive timeout means 10s; nil logger
// and observer fall back to slog.Default and a no-op observer.
func NewResolver(backend Backend, timeout time.Duration, logger *slog.Logger, observer Observer) *Resolver {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Resolver{
		backend:  backend,
		timeout:  timeout,
		logger:   logger,
		observer: observer,
		flights:  make(map[string]*flight),
	}
}

// Resolve returns the stored customer for mobile, or an empty result when
// the customer is unknown, the lookup failed or ctx ended first.
func (r *Resolver) Resolve(ctx context.Context, mobile string) LookupResult {
	f := r.join(mobile)
	ch := r.group.DoChan(mobile, func() (any, error) {
		// detached so one waiter leaving does not fail the others
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		r.mu.Lock()
		if f.waiters == 0 {
			r.mu.Unlock()
			return LookupResult{}, context.Canceled
		}
		f.cancel = cancel
		r.mu.Unlock()

		return r.backend.Lookup(lctx, mobile)
	})

	select {
	case <-ctx.Done():
		r.leave(mobile, f)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.failed(mobile, ctx.Err())
		}
		return LookupResult{}
	case res := <-ch:
		r.leave(mobile, f)
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) && ctx.Err() != nil {
				return LookupResult{}
			}
			r.failed(mobile, res.Err)
			return LookupResult{}
		}
		return res.Val.(LookupResult)
	}
}

func (r *Resolver) failed(mobile string, err error) {
	r.observer.PrefillFailed()
	r.logger.Warn("consent prefill lookup failed, continuing as new customer",
		"mobile", maskMobile(mobile), "error", err)
}

func (r *Resolver) join(mobile string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[mobile]
	if !ok {
		f = &flight{}
		r.flights[mobile] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the shared request and
// makes the next lookup of the mobile start afresh.
func (r *Resolver) leave(mobile string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if f.cancel != nil {
		f.cancel()
	}
	if r.flights[mobile] == f {
		delete(r.flights, mobile)
		r.group.Forget(mobile)
	}
}

func maskMobile(m string) string {
	if len(m) < 4 {
		return "****"
	}
	return "******" + m[len(m)-4:]
}
