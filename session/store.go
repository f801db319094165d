package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/qualisys/qauth/refresh"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix      = "qa"
	defaultReuseWindow = 24 * time.Hour
	defaultOpTimeout   = 2 * time.Second
)

// Config tunes a Store. Zero values take defaults.
type Config struct {
	Prefix string
	// ReuseWindow bounds how long a rotated token's tombstone is kept. It is
	// further capped by the record's remaining lifetime.
	ReuseWindow time.Duration
	// OpTimeout bounds every Redis round trip.
	OpTimeout time.Duration
	Now       func() time.Time
}

// Store persists refresh-token state in Redis.
type Store struct {
	redis       redis.UniversalClient
	hasher      *refresh.Hasher
	prefix      string
	reuseWindow time.Duration
	timeout     time.Duration
	now         func() time.Time
}

// NewStore returns a Store using client for persistence and hasher to derive
// stored token forms.
func NewStore(client redis.UniversalClient, hasher *refresh.Hasher, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("session store requires a redis client")
	}
	if hasher == nil {
		return nil, errors.New("session store requires a refresh hasher")
	}
	s := &Store{
		redis:       client,
		hasher:      hasher,
		prefix:      cfg.Prefix,
		reuseWindow: cfg.ReuseWindow,
		timeout:     cfg.OpTimeout,
		now:         cfg.Now,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.reuseWindow <= 0 {
		s.reuseWindow = defaultReuseWindow
	}
	if s.timeout <= 0 {
		s.timeout = defaultOpTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) recordPrefix() string  { return s.prefix + ":s:" }
func (s *Store) devicePrefix() string  { return s.prefix + ":u:" }
func (s *Store) tenantPrefix() string  { return s.prefix + ":it:" }
func (s *Store) pointerPrefix() string { return s.prefix + ":h:" }

func (s *Store) suffix(tenantID, identityID, deviceID string) string {
	return normalizeTenantID(tenantID) + ":" + identityID + ":" + deviceID
}

func (s *Store) recordKey(tenantID, identityID, deviceID string) string {
	return s.recordPrefix() + s.suffix(tenantID, identityID, deviceID)
}

func (s *Store) deviceKey(tenantID, identityID string) string {
	return s.devicePrefix() + normalizeTenantID(tenantID) + ":" + identityID
}

func (s *Store) tenantsKey(identityID string) string {
	return s.tenantPrefix() + identityID
}

func (s *Store) pointerKey(hash string) string {
	return s.pointerPrefix() + hash
}

func (s *Store) tombstoneKey(hash string) string {
	return s.prefix + ":x:" + hash
}

func (s *Store) dropArgs(extra ...interface{}) []interface{} {
	args := []interface{}{s.recordPrefix(), s.pointerPrefix(), s.devicePrefix(), s.tenantPrefix()}
	return append(args, extra...)
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Create stores a new refresh record for rec's identity, tenant and device and
// returns the raw token. Any existing record for the same triple is replaced
// and its token stops working.
func (s *Store) Create(ctx context.Context, rec Record, ttl time.Duration) (string, *Record, error) {
	if err := validateID("identity", rec.IdentityID); err != nil {
		return "", nil, err
	}
	if err := validateID("device", rec.DeviceID); err != nil {
		return "", nil, err
	}
	if err := validateTenantID(rec.TenantID); err != nil {
		return "", nil, err
	}
	ttl = ttl.Truncate(time.Millisecond)
	if ttl <= 0 {
		return "", nil, errors.New("refresh ttl must be > 0")
	}

	raw, err := refresh.Generate()
	if err != nil {
		return "", nil, err
	}
	hash := s.hasher.Sum(raw)

	now := s.now().Truncate(time.Millisecond)
	expires := now.Add(ttl)
	remember := "0"
	if rec.RememberMe {
		remember = "1"
	}
	tenant := normalizeTenantID(rec.TenantID)

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	keys := []string{
		s.recordKey(rec.TenantID, rec.IdentityID, rec.DeviceID),
		s.deviceKey(rec.TenantID, rec.IdentityID),
		s.tenantsKey(rec.IdentityID),
		s.pointerKey(hash),
	}
	err = createLua.Run(ctx, s.redis, keys,
		hash,
		now.UnixMilli(),
		ttl.Milliseconds(),
		remember,
		rec.IdentityID,
		tenant,
		rec.DeviceID,
		s.suffix(rec.TenantID, rec.IdentityID, rec.DeviceID),
		s.pointerPrefix(),
		expires.UnixMilli(),
	).Err()
	if err != nil {
		return "", nil, unavailable(err)
	}

	out := rec
	out.CreatedAt = now
	out.LastUsedAt = now
	out.ExpiresAt = expires
	return raw, &out, nil
}

// Rotate consumes raw and returns its replacement. The replacement inherits
// the original absolute expiry. Failures are ErrNotFound, ErrExpired, a
// *ReusedError, or ErrRedisUnavailable.
func (s *Store) Rotate(ctx context.Context, raw string) (string, *Record, error) {
	if err := refresh.Parse(raw); err != nil {
		return "", nil, ErrNotFound
	}
	next, err := refresh.Generate()
	if err != nil {
		return "", nil, err
	}
	hash := s.hasher.Sum(raw)
	nextHash := s.hasher.Sum(next)
	now := s.now().Truncate(time.Millisecond)

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.pointerKey(hash), s.tombstoneKey(hash), s.pointerKey(nextHash)},
		hash,
		nextHash,
		now.UnixMilli(),
		s.reuseWindow.Milliseconds(),
		s.recordPrefix(),
		s.devicePrefix(),
		s.tenantPrefix(),
	).Slice()
	if err != nil {
		return "", nil, unavailable(err)
	}

	status, fields, err := scriptResult(res)
	if err != nil {
		return "", nil, unavailable(err)
	}
	switch status {
	case statusRotated:
		if len(fields) != 6 {
			return "", nil, unavailable(errors.New("unexpected rotate reply"))
		}
		return next, &Record{
			IdentityID: fields[0],
			TenantID:   denormalizeTenantID(fields[1]),
			DeviceID:   fields[2],
			CreatedAt:  parseMillis(fields[3]),
			RememberMe: fields[4] == "1",
			LastUsedAt: now,
			ExpiresAt:  parseMillis(fields[5]),
		}, nil
	case statusReused:
		if len(fields) != 3 {
			return "", nil, unavailable(errors.New("unexpected rotate reply"))
		}
		return "", nil, &ReusedError{
			IdentityID: fields[0],
			TenantID:   denormalizeTenantID(fields[1]),
			DeviceID:   fields[2],
		}
	case statusExpired:
		return "", nil, ErrExpired
	default:
		return "", nil, ErrNotFound
	}
}

// InvalidateOne revokes the record raw belongs to. Unknown, malformed or
// already revoked tokens return (nil, nil).
func (s *Store) InvalidateOne(ctx context.Context, raw string) (*Record, error) {
	if err := refresh.Parse(raw); err != nil {
		return nil, nil
	}
	hash := s.hasher.Sum(raw)

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := invalidateOneLua.Run(ctx, s.redis,
		[]string{s.pointerKey(hash)},
		s.dropArgs(hash)...,
	).Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	status, fields, err := scriptResult(res)
	if err != nil {
		return nil, unavailable(err)
	}
	if status != 1 || len(fields) != 3 {
		return nil, nil
	}
	return &Record{
		IdentityID: fields[0],
		TenantID:   denormalizeTenantID(fields[1]),
		DeviceID:   fields[2],
	}, nil
}

// InvalidateDevice revokes one device's record in tenantID. RevokeDevice
// covers every tenant.
func (s *Store) InvalidateDevice(ctx context.Context, identityID, tenantID, deviceID string) (int, error) {
	if err := validateTenantID(tenantID); err != nil {
		return 0, err
	}
	return s.invalidateDevice(ctx, identityID, normalizeTenantID(tenantID), deviceID)
}

// RevokeDevice revokes deviceID's records in every tenant of identityID.
func (s *Store) RevokeDevice(ctx context.Context, identityID, deviceID string) (int, error) {
	return s.invalidateDevice(ctx, identityID, "", deviceID)
}

func (s *Store) invalidateDevice(ctx context.Context, identityID, tenant, deviceID string) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	n, err := invalidateDeviceLua.Run(ctx, s.redis, nil, s.dropArgs(identityID, tenant, deviceID)...).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// InvalidateTenant revokes every record identityID holds in tenantID and
// nothing else.
func (s *Store) InvalidateTenant(ctx context.Context, identityID, tenantID string) (int, error) {
	if err := validateTenantID(tenantID); err != nil {
		return 0, err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	n, err := invalidateTenantLua.Run(ctx, s.redis, nil,
		s.dropArgs(identityID, normalizeTenantID(tenantID))...,
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// InvalidateAll revokes every record identityID holds in any tenant.
func (s *Store) InvalidateAll(ctx context.Context, identityID string) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	n, err := invalidateAllLua.Run(ctx, s.redis, nil, s.dropArgs(identityID)...).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

var recordFields = []string{"c", "lu", "e", "r"}

// Get returns the live record for the triple, or ErrNotFound.
func (s *Store) Get(ctx context.Context, identityID, tenantID, deviceID string) (*Record, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	vals, err := s.redis.HMGet(ctx, s.recordKey(tenantID, identityID, deviceID), recordFields...).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	rec, ok := s.decode(vals)
	if !ok {
		return nil, ErrNotFound
	}
	rec.IdentityID = identityID
	rec.TenantID = tenantID
	rec.DeviceID = deviceID
	return rec, nil
}

// List returns a summary of every live record for identityID, most recently
// used first. Index entries whose record has expired are pruned as a side
// effect.
func (s *Store) List(ctx context.Context, identityID string) ([]Summary, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tenants, err := s.redis.SMembers(ctx, s.tenantsKey(identityID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	type ref struct{ tenant, device string }
	var refs []ref
	for _, tenant := range tenants {
		devices, err := s.redis.SMembers(ctx, s.devicePrefix()+tenant+":"+identityID).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		for _, d := range devices {
			refs = append(refs, ref{tenant: tenant, device: d})
		}
	}
	if len(refs) == 0 {
		return []Summary{}, nil
	}

	cmds := make([]*redis.SliceCmd, len(refs))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, r := range refs {
			cmds[i] = pipe.HMGet(ctx, s.recordPrefix()+r.tenant+":"+identityID+":"+r.device, recordFields...)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Summary, 0, len(refs))
	var stale []ref
	for i, cmd := range cmds {
		rec, ok := s.decode(cmd.Val())
		if !ok {
			stale = append(stale, refs[i])
			continue
		}
		out = append(out, Summary{
			TenantID:   denormalizeTenantID(refs[i].tenant),
			DeviceID:   refs[i].device,
			RememberMe: rec.RememberMe,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}

	// Best effort: a failed prune only leaves entries for the next call.
	for _, r := range stale {
		_, _ = invalidateDeviceLua.Run(ctx, s.redis, nil, s.dropArgs(identityID, r.tenant, r.device)...).Result()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

func (s *Store) decode(vals []interface{}) (*Record, bool) {
	if len(vals) != len(recordFields) {
		return nil, false
	}
	strs := make([]string, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, false
		}
		strs[i] = str
	}
	rec := &Record{
		CreatedAt:  parseMillis(strs[0]),
		LastUsedAt: parseMillis(strs[1]),
		ExpiresAt:  parseMillis(strs[2]),
		RememberMe: strs[3] == "1",
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, false
	}
	return rec, true
}

func scriptResult(res []interface{}) (int64, []string, error) {
	if len(res) == 0 {
		return 0, nil, errors.New("empty script reply")
	}
	status, ok := res[0].(int64)
	if !ok {
		return 0, nil, errors.New("unexpected script status")
	}
	fields := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		str, ok := v.(string)
		if !ok {
			return 0, nil, errors.New("unexpected script field")
		}
		fields = append(fields, str)
	}
	return status, fields, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
