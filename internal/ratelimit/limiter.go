package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/goalchat/internal/observability"
)

// Chat events with their own admission policies.
const (
	EventSendMessage   = "message:send"
	EventEditMessage   = "message:edit"
	EventDeleteMessage = "message:delete"
	EventMarkRead      = "chat:read"
	EventJoinRoom      = "room:join"
	EventMintIdentity  = "identity:mint"
	EventFetchHistory  = "history:fetch"
)

// ErrMissingSubject is returned when the caller did not resolve an identity
// before asking for admission. It is a caller bug, not a rejection.
var ErrMissingSubject = errors.New("rate limit subject is required")

// Policy bounds how many events a subject may emit per window.
type Policy struct {
	Max    int
	Window time.Duration
}

// DefaultPolicies lists the built-in per-event limits.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		EventSendMessage:   {Max: 30, Window: time.Minute},
		EventEditMessage:   {Max: 20, Window: time.Minute},
		EventDeleteMessage: {Max: 20, Window: time.Minute},
		EventMarkRead:      {Max: 60, Window: time.Minute},
		EventJoinRoom:      {Max: 20, Window: time.Minute},
		EventMintIdentity:  {Max: 5, Window: time.Minute},
		EventFetchHistory:  {Max: 30, Window: time.Minute},
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted    bool
	Event       string
	Count       int64
	Limit       int
	RetryReason string
}

// Limiter performs per-(event, subject) admission against a CounterStore.
type Limiter struct {
	store         CounterStore
	policies      map[string]Policy
	defaultPolicy Policy
	logger        zerolog.Logger
}

// NewLimiter wires a limiter to the given store. Missing policies fall back to
// DefaultPolicies.
func NewLimiter(store CounterStore, policies map[string]Policy, logger zerolog.Logger) *Limiter {
	merged := DefaultPolicies()
	for event, policy := range policies {
		if policy.Max > 0 && policy.Window > 0 {
			merged[event] = policy
		}
	}

	return &Limiter{
		store:         store,
		policies:      merged,
		defaultPolicy: Policy{Max: 30, Window: time.Minute},
		logger:        logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Policy returns the policy applied to event.
func (l *Limiter) Policy(event string) Policy {
	if policy, ok := l.policies[event]; ok {
		return policy
	}
	return l.defaultPolicy
}

// AdmitEvent checks subject against the configured policy for event.
func (l *Limiter) AdmitEvent(ctx context.Context, event, subject string) (Decision, error) {
	policy := l.Policy(event)
	return l.Admit(ctx, event, subject, policy.Max, policy.Window)
}

// Admit increments the window counter for event:subject and admits the call
// while the count stays within maxRequests. Store failures admit.
func (l *Limiter) Admit(ctx context.Context, event, subject string, maxRequests int, window time.Duration) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Decision{}, ErrMissingSubject
	}
	if maxRequests <= 0 {
		return Decision{}, fmt.Errorf("max requests must be positive for %q", event)
	}
	if window <= 0 {
		window = time.Second
	}

	decision := Decision{Event: event, Limit: maxRequests}

	count, err := l.store.Increment(ctx, event+":"+subject, window)
	if err != nil {
		observability.RateLimitFailOpen().Inc()
		l.logger.Warn().Err(err).Str("event", event).Msg("counter store failed, admitting request")
		count = 1
	}
	decision.Count = count

	if count <= int64(maxRequests) {
		decision.Admitted = true
		observability.RateLimitDecisions().WithLabelValues(event, "admitted").Inc()
		return decision, nil
	}

	decision.RetryReason = fmt.Sprintf("too many %s events, limit is %d per %s", event, maxRequests, window)
	observability.RateLimitDecisions().WithLabelValues(event, "rejected").Inc()
	l.logger.Debug().Str("event", event).Str("subject", subject).Int64("count", count).Msg("rate limit exceeded")
	return decision, nil
}
