package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type GatePolicy struct {
	// Cooldown is the minimum spacing between two login attempts, 0 disables it.
	Cooldown time.Duration
	// PassiveWait is how long a caller waits on a login started by someone else
	// before trying on its own.
	PassiveWait  time.Duration
	PollInterval time.Duration
	// FreshFor is how long a verified session is trusted without probing it.
	FreshFor time.Duration
	// Backoffs are the waits before each credential POST, the first is usually 0.
	Backoffs          []time.Duration
	RateLimitStatuses []int
}

func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		Cooldown:          8 * time.Second,
		PassiveWait:       12 * time.Second,
		PollInterval:      150 * time.Millisecond,
		FreshFor:          2 * time.Minute,
		Backoffs:          []time.Duration{0, 1500 * time.Millisecond, 3 * time.Second},
		RateLimitStatuses: DefaultRateLimitStatuses(),
	}
}

func (p GatePolicy) withDefaults() GatePolicy {
	defaults := DefaultGatePolicy()
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}
	if p.PassiveWait <= 0 {
		p.PassiveWait = defaults.PassiveWait
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaults.PollInterval
	}
	if p.FreshFor <= 0 {
		p.FreshFor = defaults.FreshFor
	}
	if len(p.Backoffs) == 0 {
		p.Backoffs = defaults.Backoffs
	}
	if p.RateLimitStatuses == nil {
		p.RateLimitStatuses = defaults.RateLimitStatuses
	}
	return p
}

// Gate serializes logins of one Client. However many callers need a session at
// once, at most one of them logs in and the rest reuse its result.
type Gate struct {
	client *Client
	policy GatePolicy

	mutex          sync.Mutex
	authenticating atomic.Bool
}

// NewGate creates the gate for client, there should be exactly one per client.
func NewGate(client *Client, policy GatePolicy) *Gate {
	return &Gate{
		client: client,
		policy: policy.withDefaults(),
	}
}

// EnsureAuthenticated returns nil once the client holds a session that is
// believed to be valid, logging in if needed. Any error wraps ErrAuthentication
// or comes from ctx.
func (g *Gate) EnsureAuthenticated(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "gate:EnsureAuthenticated")
	defer span.End()

	session := g.client.Session
	clock := g.client.clock
	entry := session.snapshot()

	if entry.authenticated {
		if clock.Now().Sub(entry.lastVerifiedAt) <= g.policy.FreshFor {
			return nil
		}
		if g.client.IsSessionFresh(ctx) {
			return nil
		}
	}

	if g.authenticating.Load() {
		span.AddEvent("waiting on login in progress")
		if g.waitPassively(ctx, entry.generation) {
			return nil
		}
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	current := session.snapshot()
	if current.authenticated && current.generation != entry.generation {
		return nil
	}

	g.authenticating.Store(true)
	defer g.authenticating.Store(false)

	if !current.lastAttemptAt.IsZero() {
		wait := g.policy.Cooldown - clock.Now().Sub(current.lastAttemptAt)
		if wait > 0 {
			span.SetAttributes(attribute.String("cooldown", wait.String()))
			err := clock.Sleep(ctx, wait)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "cancelled during cooldown")
				return err
			}
		}
	}

	err := g.client.login(ctx, g.policy.Backoffs, g.policy.RateLimitStatuses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}
	return nil
}

// waitPassively polls until the login in progress finishes or PassiveWait runs
// out, it returns true if a login newer than `generation` succeeded.
func (g *Gate) waitPassively(ctx context.Context, generation uint64) bool {
	clock := g.client.clock
	deadline := clock.Now().Add(g.policy.PassiveWait)

	for g.authenticating.Load() && clock.Now().Before(deadline) {
		err := clock.Sleep(ctx, g.policy.PollInterval)
		if err != nil {
			return false
		}
	}

	state := g.client.Session.snapshot()
	return state.authenticated && state.generation != generation
}
