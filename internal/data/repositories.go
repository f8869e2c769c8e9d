package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
)

// Stores bundles the two storage tiers plus the lock manager used for
// cross-key serialisation. Every repository embeds it.
type Stores struct {
	Objects ObjectStore
	Cache   *KV
	Locks   *locks.Manager
	Logger  *zap.Logger
}

// readJSON tries the cache, falls through to the object store on miss, and
// repopulates the cache. dst must be a pointer.
func (s *Stores) readJSON(ctx context.Context, key string, dst any) error {
	if s.Cache.GetJSON(ctx, key, dst) {
		return nil
	}
	raw, err := s.Objects.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.Internal("corrupt object at "+key, err)
	}
	s.Cache.SetJSON(ctx, key, dst)
	return nil
}

// writeJSON is write-through: the object store write is authoritative; on
// failure the cache entry is invalidated so readers re-read the store.
func (s *Stores) writeJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errs.Internal("marshal object for "+key, err)
	}
	if err := s.Objects.Put(ctx, key, raw); err != nil {
		s.Cache.Invalidate(ctx, key)
		return err
	}
	s.Cache.SetJSON(ctx, key, v)
	return nil
}

func (s *Stores) remove(ctx context.Context, key string) error {
	err := s.Objects.Delete(ctx, key)
	s.Cache.Invalidate(ctx, key)
	return err
}

// withEntityLock serialises read-modify-write cycles on a single key.
// Writers that cannot take the lock within the retry budget observe Conflict
// and must re-read.
func (s *Stores) withEntityLock(ctx context.Context, name string, fn func() error) error {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		lock, err := s.Locks.Acquire(ctx, locks.Registry(name), 10*time.Second)
		if err != nil {
			return err
		}
		if lock != nil {
			defer s.Locks.Release(context.WithoutCancel(ctx), lock)
			return fn()
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindTimeout, "UPDATE_CANCELLED", "update cancelled", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return errs.Conflict("CONCURRENT_UPDATE", "entity is being updated concurrently, retry")
}

func conflictf(code, format string, args ...any) error {
	return errs.Conflict(code, fmt.Sprintf(format, args...))
}
