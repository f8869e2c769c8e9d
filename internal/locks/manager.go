package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

// Lock name namespace. Every distributed mutex in the system goes through
// one of these builders so names cannot collide.
const (
	prefixRecordingActive = "recording_active_"
	prefixScheduledTask   = "scheduled_task_"
	prefixWebhook         = "webhook_"
	prefixRegistry        = "registry_"
	nameStorageInit       = "storage_init"
	nameMigration         = "migration"
)

func RecordingActive(roomID string) string { return prefixRecordingActive + roomID }
func ScheduledTask(name string) string     { return prefixScheduledTask + name }
func StorageInit() string                  { return nameStorageInit }
func Migration() string                    { return nameMigration }
func Registry(name string) string          { return prefixRegistry + name }

func Webhook(event, id string) string {
	return fmt.Sprintf("%s%s_%s", prefixWebhook, event, id)
}

// RoomIDFromRecordingLock inverts RecordingActive for the orphan-lock GC.
func RoomIDFromRecordingLock(name string) (string, bool) {
	if !strings.HasPrefix(name, prefixRecordingActive) {
		return "", false
	}
	return strings.TrimPrefix(name, prefixRecordingActive), true
}

// RecordingActivePrefix is the scan prefix used by the orphan-lock GC.
const RecordingActivePrefix = prefixRecordingActive

const redisKeyPrefix = "lock:"

// Lock is an acquired distributed mutex. The token identifies the owner;
// Release and TryRenew are no-ops for anyone else holding the name.
type Lock struct {
	Name       string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

type lockPayload struct {
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Compare-owner-then-act; atomicity matters so a lock that expired and was
// re-acquired by another replica is never revoked.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`)
	renewScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0`)
)

// Manager provides named, TTL'd distributed mutexes plus a per-process
// single-flight primitive. All locks live in redis; there are no
// in-memory-only locks.
type Manager struct {
	client    *redis.Client
	replicaID string
	logger    *zap.Logger
	single    singleflight.Group
}

func NewManager(client *redis.Client, replicaID string, logger *zap.Logger) *Manager {
	return &Manager{client: client, replicaID: replicaID, logger: logger}
}

// Acquire is non-blocking single-winner: it returns (nil, nil) when the lock
// is already held. Transport failures surface as Unavailable and are treated
// by callers as "not acquired".
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, errs.Internal("lock ttl is mandatory", nil)
	}
	payload := lockPayload{
		Token:      fmt.Sprintf("%s:%s", m.replicaID, uuid.NewString()),
		AcquiredAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Internal("marshal lock payload", err)
	}
	ok, err := m.client.SetNX(ctx, redisKeyPrefix+name, raw, ttl).Result()
	if err != nil {
		return nil, errs.Unavailable("LOCK_UNAVAILABLE", "lock store unreachable", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{Name: name, Token: payload.Token, AcquiredAt: payload.AcquiredAt, TTL: ttl}, nil
}

// Release drops the lock iff the caller still owns it.
func (m *Manager) Release(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	raw, _ := json.Marshal(lockPayload{Token: lock.Token, AcquiredAt: lock.AcquiredAt})
	if err := releaseScript.Run(ctx, m.client, []string{redisKeyPrefix + lock.Name}, string(raw)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errs.Unavailable("LOCK_UNAVAILABLE", "lock release failed", err)
	}
	return nil
}

// ReleaseByName force-releases a lock regardless of owner. Reserved for the
// webhook path that must clear recording_active on egress_ended even when the
// starting replica is gone.
func (m *Manager) ReleaseByName(ctx context.Context, name string) error {
	if err := m.client.Del(ctx, redisKeyPrefix+name).Err(); err != nil {
		return errs.Unavailable("LOCK_UNAVAILABLE", "lock release failed", err)
	}
	return nil
}

// TryRenew extends the TTL when the caller still owns the lock.
func (m *Manager) TryRenew(ctx context.Context, lock *Lock, ttl time.Duration) (bool, error) {
	if lock == nil {
		return false, nil
	}
	raw, _ := json.Marshal(lockPayload{Token: lock.Token, AcquiredAt: lock.AcquiredAt})
	n, err := renewScript.Run(ctx, m.client, []string{redisKeyPrefix + lock.Name}, string(raw), ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, errs.Unavailable("LOCK_UNAVAILABLE", "lock renew failed", err)
	}
	return n == 1, nil
}

func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	n, err := m.client.Exists(ctx, redisKeyPrefix+name).Result()
	if err != nil {
		return false, errs.Unavailable("LOCK_UNAVAILABLE", "lock store unreachable", err)
	}
	return n == 1, nil
}

// CreatedAt reads the acquisition timestamp a garbage collector uses to
// apply its grace period. Missing lock reports NotFound.
func (m *Manager) CreatedAt(ctx context.Context, name string) (time.Time, error) {
	raw, err := m.client.Get(ctx, redisKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, errs.NotFound("LOCK_NOT_FOUND", "lock not held: "+name)
	}
	if err != nil {
		return time.Time{}, errs.Unavailable("LOCK_UNAVAILABLE", "lock store unreachable", err)
	}
	var p lockPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return time.Time{}, errs.Internal("corrupt lock payload", err)
	}
	return p.AcquiredAt, nil
}

// FindByPrefix scans for held lock names matching prefix.
func (m *Manager) FindByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := m.client.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Unavailable("LOCK_UNAVAILABLE", "lock scan failed", err)
	}
	return names, nil
}

// Do collapses concurrent in-process calls with the same key into one
// execution (single-flight).
func (m *Manager) Do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := m.single.Do(key, fn)
	return v, err
}
