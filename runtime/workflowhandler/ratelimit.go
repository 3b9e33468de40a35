package workflowhandler

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/a2aruntime/runtime/taskerr"
)

// defaultDispatchesPerMinute bounds how often a single plugin can be
// dispatched as a child task; past that budget Dispatch waits for
// capacity, failing only if the caller's context ends first. Generous
// enough that a legitimate burst of tool calls from one AI turn never
// trips it.
const defaultDispatchesPerMinute = 600

// DispatchLimiter throttles Handler.Dispatch per plugin, one token bucket
// per canonical plugin ID. Grounded on the teacher's
// features/model/middleware AdaptiveRateLimiter, which sits in front of a
// model.Client the same way this sits in front of a plugin dispatch: a
// per-key rate.Limiter guarding a shared resource. The AIMD
// backoff/probe loop and the Pulse-backed cluster coordination do not
// carry over -- those exist there to track a provider's advertised
// tokens-per-minute budget across a cluster of processes, and a plugin
// dispatch has no such external signal to track. This is a fixed local
// budget per plugin instead.
type DispatchLimiter struct {
	mu        sync.Mutex
	perMinute float64
	limiters  map[string]*rate.Limiter
}

// NewDispatchLimiter constructs a DispatchLimiter allowing up to
// dispatchesPerMinute dispatches per minute for each plugin. A
// non-positive value falls back to defaultDispatchesPerMinute.
func NewDispatchLimiter(dispatchesPerMinute float64) *DispatchLimiter {
	if dispatchesPerMinute <= 0 {
		dispatchesPerMinute = defaultDispatchesPerMinute
	}
	return &DispatchLimiter{
		perMinute: dispatchesPerMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *DispatchLimiter) limiterFor(pluginID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[pluginID]
	if !ok {
		burst := int(l.perMinute)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(l.perMinute/60.0), burst)
		l.limiters[pluginID] = lim
	}
	return lim
}

// Wait blocks until pluginID has capacity for one more dispatch, or
// returns a *taskerr.Error of Kind RateLimited if ctx is canceled first.
func (l *DispatchLimiter) Wait(ctx context.Context, pluginID string) error {
	if err := l.limiterFor(pluginID).Wait(ctx); err != nil {
		return taskerr.Wrap(taskerr.KindRateLimited, err, "dispatch rate limit exceeded for plugin "+pluginID)
	}
	return nil
}

// SetDispatchLimiter replaces h's dispatch limiter, letting a caller apply
// a budget read from runtime/config instead of the default.
func (h *Handler) SetDispatchLimiter(perMinute float64) {
	h.limiter = NewDispatchLimiter(perMinute)
}
