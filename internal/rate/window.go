package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ARGV: now ms, window ms, limit, add flag, member.
// Returns {count, release ms}. release is the score of the event whose expiry
// brings the count back below limit, or -1 when the count is already below it.
var windowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local span = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - span)
if ARGV[4] == "1" then
  redis.call("ZADD", KEYS[1], now, ARGV[5])
  redis.call("PEXPIRE", KEYS[1], span)
end

local count = redis.call("ZCARD", KEYS[1])
local release = -1
if limit > 0 and count >= limit then
  local entry = redis.call("ZRANGE", KEYS[1], count - limit, count - limit, "WITHSCORES")
  if entry[2] then
    release = tonumber(entry[2])
  end
end
return {count, release}
`)

// State is a window snapshot for one subject.
type State struct {
	Count int
	// ReleaseAt is when Count drops back below the limit passed to Add or
	// Peek. Zero when it is already below.
	ReleaseAt time.Time
}

// RetryAfter returns the wait until ReleaseAt, never negative.
func (s State) RetryAfter(now time.Time) time.Duration {
	if s.ReleaseAt.IsZero() || !s.ReleaseAt.After(now) {
		return 0
	}
	return s.ReleaseAt.Sub(now)
}

// Window counts events per subject over a sliding span.
type Window struct {
	redis   redis.UniversalClient
	prefix  string
	span    time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewWindow returns a window keyed as prefix+subject.
func NewWindow(client redis.UniversalClient, prefix string, span, timeout time.Duration, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Window{redis: client, prefix: prefix, span: span, timeout: timeout, now: now}
}

// Span returns the window length.
func (w *Window) Span() time.Duration {
	return w.span
}

// Add records one event and returns the resulting state against limit.
func (w *Window) Add(ctx context.Context, subject string, limit int) (State, error) {
	return w.run(ctx, subject, limit, true)
}

// Peek returns the current state against limit without recording an event.
func (w *Window) Peek(ctx context.Context, subject string, limit int) (State, error) {
	return w.run(ctx, subject, limit, false)
}

// Reset forgets every event for subject.
func (w *Window) Reset(ctx context.Context, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.redis.Del(ctx, w.prefix+subject).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *Window) run(ctx context.Context, subject string, limit int, add bool) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	now := w.now().UnixMilli()
	flag := "0"
	if add {
		flag = "1"
	}
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := windowLua.Run(ctx, w.redis, []string{w.prefix + subject},
		now, w.span.Milliseconds(), limit, flag, member,
	).Int64Slice()
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return State{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, errors.New("unexpected window reply"))
	}

	st := State{Count: int(res[0])}
	if res[1] >= 0 {
		st.ReleaseAt = time.UnixMilli(res[1]).Add(w.span)
	}
	return st, nil
}
