package app

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/artpar/bulwark/domain/apperr"
	"github.com/artpar/bulwark/domain/ratelimit"
	"github.com/artpar/bulwark/ports"
)

// DecisionObserver is told about every rate limit decision.
type DecisionObserver func(rule string, allowed bool)

// LimiterDeps contains dependencies for Limiter.
type LimiterDeps struct {
	Counters ports.CounterStore
	Stats    ports.StatsStore // optional
	Clock    ports.Clock
	Logger   zerolog.Logger
	Observer DecisionObserver // optional
}

// Limiter applies named fixed-window rules to caller keys.
type Limiter struct {
	counters ports.CounterStore
	stats    ports.StatsStore
	clock    ports.Clock
	logger   zerolog.Logger
	observe  DecisionObserver

	// Hot-reloadable
	rules atomic.Pointer[map[string]ratelimit.Rule]

	warn *rate.Limiter
}

// NewLimiter creates a limiter with the given rules.
func NewLimiter(deps LimiterDeps, rules map[string]ratelimit.Rule) (*Limiter, error) {
	l := &Limiter{
		counters: deps.Counters,
		stats:    deps.Stats,
		clock:    deps.Clock,
		logger:   deps.Logger,
		observe:  deps.Observer,
		warn:     rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	if err := l.UpdateRules(rules); err != nil {
		return nil, err
	}
	return l, nil
}

// UpdateRules swaps the rule set. Existing counters are kept; a changed
// limit applies from the next attempt.
// This is thread-safe and can be called while handling requests.
func (l *Limiter) UpdateRules(rules map[string]ratelimit.Rule) error {
	named := make(map[string]ratelimit.Rule, len(rules))
	for name, r := range rules {
		r.Name = name
		named[name] = r
	}
	if err := ratelimit.ValidateRules(named); err != nil {
		return err
	}
	l.rules.Store(&named)
	return nil
}

// Rule returns the named rule.
func (l *Limiter) Rule(name string) (ratelimit.Rule, bool) {
	r, ok := (*l.rules.Load())[name]
	return r, ok
}

// Rules returns a copy of the current rule set.
func (l *Limiter) Rules() map[string]ratelimit.Rule {
	return maps.Clone(*l.rules.Load())
}

// Attempt describes the call being counted.
type Attempt struct {
	Key    string
	Method string
	Path   string
}

// Decision is the outcome of one Check.
type Decision struct {
	ratelimit.CheckResult
	Rule ratelimit.Rule
	Key  string
}

// Check counts the attempt against the named rule. A rejected attempt
// returns the decision together with a rate-limited error. If the counter
// store fails the attempt is allowed.
func (l *Limiter) Check(ctx context.Context, ruleName string, a Attempt) (Decision, error) {
	rule, ok := l.Rule(ruleName)
	if !ok {
		return Decision{}, apperr.Internal(fmt.Sprintf("unknown rate limit rule %q", ruleName))
	}
	now := l.clock.Now()

	res, err := l.counters.Hit(ctx, counterKey(rule.Name, a.Key), rule, now)
	if err != nil {
		if l.warn.Allow() {
			l.logger.Warn().Err(err).Str("rule", rule.Name).Msg("rate limit store failed, allowing request")
		}
		res = ratelimit.CheckResult{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: now.Add(rule.Window)}
	}

	d := Decision{CheckResult: res, Rule: rule, Key: a.Key}
	if l.observe != nil {
		l.observe(rule.Name, res.Allowed)
	}
	l.recordStats(ctx, ratelimit.StatsEvent{
		Rule: rule.Name, Key: a.Key, Allowed: res.Allowed,
		Method: a.Method, Path: a.Path, At: now,
	})

	if res.Allowed {
		return d, nil
	}
	return d, apperr.RateLimited(rule.Message,
		apperr.WithExtra("rule", rule.Name),
		apperr.WithExtra("key", a.Key),
		apperr.WithExtra("retryAfter", apperr.RetryAfterSeconds(res.RetryAfter)),
	)
}

// Reset clears the caller's counter for the named rule.
func (l *Limiter) Reset(ctx context.Context, ruleName, key string) error {
	return l.counters.Reset(ctx, counterKey(ruleName, key))
}

func (l *Limiter) recordStats(ctx context.Context, ev ratelimit.StatsEvent) {
	if l.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 100*time.Millisecond)
	defer cancel()
	if err := l.stats.Record(ctx, ev); err != nil && l.warn.Allow() {
		l.logger.Warn().Err(err).Msg("failed to record rate limit stats")
	}
}

func counterKey(rule, key string) string {
	return rule + "|" + key
}
