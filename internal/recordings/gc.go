package recordings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/locks"
)

// OrphanGCTask is the scheduler name of the orphaned-lock collector.
const OrphanGCTask = "recording_orphan_lock_gc"

// orphanGracePeriod shields freshly acquired locks: between acquisition and
// the first egress report there is legitimately no in-progress egress.
const orphanGracePeriod = time.Minute

// RunOrphanGC releases recording_active locks whose room has no in-progress
// egress. Such locks survive when the replica that started a recording died
// between acquiring and the egress_ended delivery, and they block every
// future recording of the room until the TTL runs out.
func (s *Service) RunOrphanGC(ctx context.Context) {
	names, err := s.locks.FindByPrefix(ctx, locks.RecordingActivePrefix)
	if err != nil {
		s.logger.Warn("orphan gc: lock scan failed", zap.Error(err))
		return
	}
	for _, name := range names {
		roomID, ok := locks.RoomIDFromRecordingLock(name)
		if !ok {
			continue
		}
		acquiredAt, err := s.locks.CreatedAt(ctx, name)
		if err != nil {
			// Expired or released between scan and read; nothing to do.
			continue
		}
		if time.Since(acquiredAt) < orphanGracePeriod {
			continue
		}
		active, err := s.adapter.InProgressRecordingEgress(ctx, roomID)
		if err != nil {
			s.logger.Warn("orphan gc: egress check failed",
				zap.String("roomId", roomID), zap.Error(err))
			continue
		}
		if len(active) > 0 {
			continue
		}
		if err := s.locks.ReleaseByName(ctx, name); err != nil {
			s.logger.Warn("orphan gc: lock release failed",
				zap.String("lock", name), zap.Error(err))
			continue
		}
		s.logger.Info("orphan gc: released stale recording lock",
			zap.String("roomId", roomID))
	}
}
