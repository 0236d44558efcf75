// Package ratelimit meters API clients with token buckets kept in Redis, so
// every API replica draws from the same buckets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy names.
const (
	// PolicyUpload meters presigned upload URLs, one token per URL.
	PolicyUpload = "upload"
	// PolicyEvents meters trigger events, one token per source record.
	PolicyEvents = "events"
)

var (
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
	// ErrCostExceedsBurst means the request can never fit the bucket, no
	// matter how long the client waits.
	ErrCostExceedsBurst = errors.New("request cost exceeds bucket size")
)

// Policy is one bucket shape. Rate is tokens refilled per second, Burst the
// bucket size.
type Policy struct {
	Name  string
	Rate  float64
	Burst int
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("policy name is required")
	}
	if p.Rate <= 0 || math.IsInf(p.Rate, 0) || math.IsNaN(p.Rate) {
		return fmt.Errorf("policy %s: rate must be positive", p.Name)
	}
	if p.Burst <= 0 {
		return fmt.Errorf("policy %s: burst must be positive", p.Name)
	}
	return nil
}

// refillTime is how long an empty bucket takes to fill up again.
func (p Policy) refillTime() time.Duration {
	return time.Duration(float64(p.Burst) / p.Rate * float64(time.Second))
}

// Decision is the outcome of one Take. RetryAfter is set only when the
// request was denied.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket for the time elapsed since its last use and
// then tries to withdraw cost tokens.
var takeScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or burst
local at = tonumber(state[2]) or now

if now > at then
  tokens = math.min(burst, tokens + (now - at) * per_ms)
end

local wait = 0
local ok = 0
if tokens >= cost then
  tokens = tokens - cost
  ok = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {ok, math.floor(tokens), wait}
`)

type Limiter struct {
	client   redis.UniversalClient
	prefix   string
	policies map[string]Policy
	now      func() time.Time
}

func NewLimiter(client redis.UniversalClient, prefix string, policies ...Policy) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if len(policies) == 0 {
		return nil, errors.New("at least one policy is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "rendition:ratelimit"
	}

	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %s", p.Name)
		}
		byName[p.Name] = p
	}

	return &Limiter{
		client:   client,
		prefix:   prefix,
		policies: byName,
		now:      time.Now,
	}, nil
}

// Take withdraws cost tokens from subject's bucket under the named policy.
func (l *Limiter) Take(ctx context.Context, policy, subject string, cost int) (Decision, error) {
	p, ok := l.policies[policy]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, policy)
	}
	if cost < 1 {
		cost = 1
	}
	if cost > p.Burst {
		return Decision{}, fmt.Errorf("%w: cost %d, burst %d", ErrCostExceedsBurst, cost, p.Burst)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	ttl := 2 * p.refillTime()
	if ttl < time.Second {
		ttl = time.Second
	}

	raw, err := takeScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + p.Name + ":" + subject},
		p.Burst,
		p.Rate/1000,
		l.now().UnixMilli(),
		cost,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %s tokens: %w", p.Name, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("take %s tokens: unexpected reply %v", p.Name, raw)
	}

	d := Decision{Allowed: raw[0] == 1, Remaining: raw[1]}
	if !d.Allowed {
		d.RetryAfter = time.Duration(raw[2]) * time.Millisecond
	}
	return d, nil
}
