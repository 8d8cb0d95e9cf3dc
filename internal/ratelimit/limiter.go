package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPurpose = "default"

type Config struct {
	IPLimit       int
	IPWindow      time.Duration
	EmailCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		IPLimit:       10,
		IPWindow:      15 * time.Minute,
		EmailCooldown: 2 * time.Minute,
	}
}

// Limiter keeps per-IP request counters and per-email cooldowns in Redis.
// A nil *Limiter allows everything.
type Limiter struct {
	client *redis.Client
	cfg    Config
}

func NewLimiter(client *redis.Client) *Limiter {
	return NewLimiterWithConfig(client, DefaultConfig())
}

func NewLimiterWithConfig(client *redis.Client, cfg Config) *Limiter {
	return &Limiter{client: client, cfg: cfg}
}

func ipKey(ip, purpose string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func emailKey(email string) string {
	return fmt.Sprintf("cooldown:email:%s", strings.ToLower(strings.TrimSpace(email)))
}

// CheckIPRateLimit reports whether ip has used up its request budget
func (l *Limiter) CheckIPRateLimit(ctx context.Context, ip string) (bool, error) {
	return l.CheckIPRateLimitWithPurpose(ctx, ip, defaultPurpose)
}

func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	if l == nil {
		return false, nil
	}

	count, err := l.client.Get(ctx, ipKey(ip, purpose)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	return count >= l.cfg.IPLimit, nil
}

func (l *Limiter) RecordIPRequest(ctx context.Context, ip string) error {
	return l.RecordIPRequestWithPurpose(ctx, ip, defaultPurpose)
}

// RecordIPRequestWithPurpose counts one request. The window starts with the
// first request.
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	if l == nil {
		return nil
	}

	key := ipKey(ip, purpose)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.cfg.IPWindow).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return nil
}

// CheckEmailCooldown reports whether email is still cooling down
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	if l == nil {
		return false, nil
	}

	n, err := l.client.Exists(ctx, emailKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check email cooldown: %w", err)
	}

	return n > 0, nil
}

// SetEmailCooldown starts the cooldown for email using the configured duration
func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.SetEmailCooldownFor(ctx, email, l.cfg.EmailCooldown)
}

func (l *Limiter) SetEmailCooldownFor(ctx context.Context, email string, d time.Duration) error {
	if l == nil {
		return nil
	}

	if err := l.client.Set(ctx, emailKey(email), 1, d).Err(); err != nil {
		return fmt.Errorf("failed to set email cooldown: %w", err)
	}

	return nil
}

// CooldownRemaining returns how long email must still wait, zero if none
func (l *Limiter) CooldownRemaining(ctx context.Context, email string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}

	ttl, err := l.client.PTTL(ctx, emailKey(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read email cooldown: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}

	return ttl, nil
}
