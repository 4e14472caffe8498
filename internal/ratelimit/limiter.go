// Package ratelimit tracks abuse counters in Redis: failed login attempts
// per address, code-guess attempts per email and dispatch cooldowns.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	Redis *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{Redis: client}
}

const (
	loginMaxAttempts  = 5
	loginAttemptTTL   = 10 * time.Minute
	loginBanTTL       = time.Hour
	codeMaxAttempts   = 5
	codeAttemptTTL    = 10 * time.Minute
	signupMaxPerIP    = 10
	signupIPTTL       = 30 * time.Minute
	signupMaxPerEmail = 3
	signupEmailTTL    = 30 * time.Minute

	// DispatchCooldown is the minimum gap between outbound messages to the
	// same address.
	DispatchCooldown = 60 * time.Second
)

func loginAttemptKey(ip string) string { return "login_attempts:" + ip }
func loginBanKey(ip string) string     { return "login_ban:" + ip }

func codeAttemptKey(email string) string { return "code_attempts:" + strings.ToLower(email) }

func signupIPKey(ip string) string { return "signup_attempts_ip:" + ip }
func signupEmailKey(email string) string {
	return "signup_attempts_email:" + strings.ToLower(email)
}

func dispatchKey(email string) string { return "dispatch_cooldown:" + strings.ToLower(email) }

// IsBanned reports whether the address is under a login ban.
func (l *Limiter) IsBanned(ctx context.Context, ip string) bool {
	exists, _ := l.Redis.Exists(ctx, loginBanKey(ip)).Result()
	return exists == 1
}

// NoteLoginFailure counts a failed login for the address and places a ban
// once the threshold is crossed.
func (l *Limiter) NoteLoginFailure(ctx context.Context, ip string) error {
	key := loginAttemptKey(ip)
	attempts, err := l.Redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		l.Redis.Expire(ctx, key, loginAttemptTTL)
	}
	if attempts >= loginMaxAttempts {
		l.Redis.Set(ctx, loginBanKey(ip), "1", loginBanTTL)
		l.Redis.Expire(ctx, key, loginBanTTL)
	}
	return nil
}

// ResetLogin clears the failure counter after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, ip string) {
	l.Redis.Del(ctx, loginAttemptKey(ip))
}

// NoteCodeAttempt counts a verification or reset code submission for the
// email. Returns whether the caller is locked out and the remaining lockout.
func (l *Limiter) NoteCodeAttempt(ctx context.Context, email string) (bool, time.Duration, error) {
	key := codeAttemptKey(email)
	attempts, err := l.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if attempts == 1 {
		l.Redis.Expire(ctx, key, codeAttemptTTL)
	}
	ttl, _ := l.Redis.TTL(ctx, key).Result()
	return attempts >= codeMaxAttempts, ttl, nil
}

// ResetCodeAttempts clears the counter once a code is accepted.
func (l *Limiter) ResetCodeAttempts(ctx context.Context, email string) {
	l.Redis.Del(ctx, codeAttemptKey(email))
}

// NoteSignup counts a registration attempt against both the address and the
// email so neither can be cycled independently.
func (l *Limiter) NoteSignup(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	keys := []struct {
		key string
		max int64
		ttl time.Duration
	}{
		{signupIPKey(ip), signupMaxPerIP, signupIPTTL},
		{signupEmailKey(email), signupMaxPerEmail, signupEmailTTL},
	}

	locked := false
	var ttlMax time.Duration
	for _, k := range keys {
		attempts, err := l.Redis.Incr(ctx, k.key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			l.Redis.Expire(ctx, k.key, k.ttl)
		}
		if attempts >= k.max {
			locked = true
		}
		if ttl, _ := l.Redis.TTL(ctx, k.key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}
	return locked, ttlMax, nil
}

// DispatchTTL returns the remaining cooldown before another message may be
// sent to the email, zero when none is in effect.
func (l *Limiter) DispatchTTL(ctx context.Context, email string) time.Duration {
	ttl, err := l.Redis.TTL(ctx, dispatchKey(email)).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// MarkDispatched starts the per-address cooldown.
func (l *Limiter) MarkDispatched(ctx context.Context, email string) {
	l.Redis.Set(ctx, dispatchKey(email), "1", DispatchCooldown)
}
