package data

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/locks"
)

// newTestStores wires a MemStore behind a miniredis cache and lock manager,
// mirroring the production tiers.
func newTestStores(t *testing.T) (*Stores, *MemStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	objects := NewMemStore()
	st := &Stores{
		Objects: objects,
		Cache:   NewKV(client, 0, zap.NewNop()),
		Locks:   locks.NewManager(client, "test-replica", zap.NewNop()),
		Logger:  zap.NewNop(),
	}
	return st, objects
}
