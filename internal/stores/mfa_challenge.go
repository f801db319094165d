package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1
	defaultOpTimeout        = 2 * time.Second
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
	ErrChallengeInvalid  = errors.New("mfa challenge record invalid")
)

// Challenge is a password-verified login waiting for its second factor.
type Challenge struct {
	IdentityID string
	DeviceID   string
	RememberMe bool
	ExpiresAt  int64
	Attempts   uint16
}

// ChallengeStore keeps challenges under <prefix>:mc:<id> and used TOTP
// steps under <prefix>:mu:<identity>:<counter>.
type ChallengeStore struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewChallengeStore returns a store whose Redis calls are each bounded by
// opTimeout. A non-positive opTimeout defaults to two seconds and a nil now
// defaults to time.Now.
func NewChallengeStore(client redis.UniversalClient, prefix string, opTimeout time.Duration, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "qa"
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{redis: client, prefix: prefix, timeout: opTimeout, now: now}
}

func (s *ChallengeStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":mc:" + id
}

// Create persists a new challenge and returns its opaque ID.
func (s *ChallengeStore) Create(ctx context.Context, c Challenge, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("mfa challenge ttl must be > 0")
	}
	id := uuid.NewString()
	c.ExpiresAt = s.now().Add(ttl).Unix()
	c.Attempts = 0

	encoded, err := encodeChallenge(&c)
	if err != nil {
		return "", err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return id, nil
}

// Get loads a challenge without consuming it.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > c.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// Consume atomically removes the challenge and returns it. Only one caller
// can consume a given challenge.
func (s *ChallengeStore) Consume(ctx context.Context, id string) (*Challenge, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	c, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > c.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// RecordFailure increments the attempt counter. When maxAttempts is reached
// the challenge is deleted and exceeded is true.
func (s *ChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(id)
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			c, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			remaining := time.Unix(c.ExpiresAt, 0).Sub(s.now())
			c.Attempts++
			if int(c.Attempts) >= maxAttempts || remaining <= 0 {
				exceeded = int(c.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrChallengeExpired
				}
				return nil
			}

			updated, err := encodeChallenge(c)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return false, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrChallengeInvalid):
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}
	return false, ErrChallengeNotFound
}

// MarkStepUsed records that identityID spent TOTP step counter. It returns
// false when the step was already used inside ttl.
func (s *ChallengeStore) MarkStepUsed(ctx context.Context, identityID string, counter int64, ttl time.Duration) (bool, error) {
	key := s.prefix + ":mu:" + identityID + ":" + strconv.FormatInt(counter, 10)
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	ok, err := s.redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return ok, nil
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	if len(c.IdentityID) > 65535 || len(c.DeviceID) > 65535 {
		return nil, ErrChallengeInvalid
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	var flags byte
	if c.RememberMe {
		flags |= 1
	}
	buf.WriteByte(flags)
	_ = binary.Write(&buf, binary.BigEndian, c.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, c.ExpiresAt)
	writeString(&buf, c.IdentityID)
	writeString(&buf, c.DeviceID)
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != challengeRecordVersion1 {
		return nil, ErrChallengeInvalid
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, ErrChallengeInvalid
	}

	c := &Challenge{RememberMe: flags&1 != 0}
	if err := binary.Read(r, binary.BigEndian, &c.Attempts); err != nil {
		return nil, ErrChallengeInvalid
	}
	if err := binary.Read(r, binary.BigEndian, &c.ExpiresAt); err != nil {
		return nil, ErrChallengeInvalid
	}
	if c.IdentityID, err = readString(r); err != nil {
		return nil, ErrChallengeInvalid
	}
	if c.DeviceID, err = readString(r); err != nil {
		return nil, ErrChallengeInvalid
	}
	if r.Len() != 0 {
		return nil, ErrChallengeInvalid
	}
	return c, nil
}
