package rooms

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/data"
)

// Task names under which the collectors register; the scheduler's
// leader election keys off them.
const (
	ExpirationGCTask = "room_expiration_gc"
	StatusGCTask     = "room_status_gc"
)

const gcPageSize = 100

// RunExpirationGC deletes rooms whose autoDeletionDate has passed, applying
// each room's own autoDeletionPolicy as if a deletion request arrived. Rooms
// without a policy fall back to fail/fail, so expiry alone never destroys a
// room that still holds a meeting or recordings.
func (s *Service) RunExpirationGC(ctx context.Context) {
	now := time.Now().UTC()
	cursor := ""
	for {
		page, next, err := s.rooms.List(ctx, gcPageSize, cursor)
		if err != nil {
			s.logger.Warn("expiration gc: listing rooms failed", zap.Error(err))
			return
		}
		for _, room := range page {
			if room.AutoDeletionDate == nil || room.AutoDeletionDate.After(now) {
				continue
			}
			withMeeting := data.MeetingPolicyFail
			withRecordings := data.RecordingsPolicyFail
			if room.AutoDeletionPolicy != nil {
				withMeeting = room.AutoDeletionPolicy.WithMeeting
				withRecordings = room.AutoDeletionPolicy.WithRecordings
			}
			outcome, err := s.Delete(ctx, room.RoomID, withMeeting, withRecordings)
			if err != nil {
				s.logger.Warn("expiration gc: deletion failed",
					zap.String("roomId", room.RoomID), zap.Error(err))
				continue
			}
			s.logger.Info("expiration gc: room expired",
				zap.String("roomId", room.RoomID), zap.String("outcome", outcome.Code))
		}
		if next == "" {
			return
		}
		cursor = next
	}
}

// RunStatusGC reconciles rooms stuck in active_meeting with the media
// server: when the media room is confirmed gone (a failed existence check is
// not a confirmation), the room_finished transition is driven locally so a
// lost webhook cannot wedge the state machine.
func (s *Service) RunStatusGC(ctx context.Context) {
	cursor := ""
	for {
		page, next, err := s.rooms.List(ctx, gcPageSize, cursor)
		if err != nil {
			s.logger.Warn("status gc: listing rooms failed", zap.Error(err))
			return
		}
		for _, room := range page {
			if room.Status != data.RoomActiveMeeting {
				continue
			}
			exists, err := s.adapter.RoomExists(ctx, room.RoomID)
			if err != nil {
				s.logger.Warn("status gc: media existence check failed",
					zap.String("roomId", room.RoomID), zap.Error(err))
				continue
			}
			if exists {
				continue
			}
			if err := s.HandleMeetingFinished(ctx, room.RoomID); err != nil {
				s.logger.Warn("status gc: meeting-finished transition failed",
					zap.String("roomId", room.RoomID), zap.Error(err))
				continue
			}
			s.logger.Info("status gc: reconciled stale active meeting",
				zap.String("roomId", room.RoomID))
		}
		if next == "" {
			return
		}
		cursor = next
	}
}
