package recordings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
)

// EgressUpdate carries the media-server-reported counters of a webhook
// delivery, already translated out of the wire types.
type EgressUpdate struct {
	Size     int64
	Duration float64
	Failure  string
}

// ConfirmActive is the egress_started transition: it verifies the room's
// recording lock is held (a lock-less egress is an orphan the GC will reap),
// moves the metadata to active and broadcasts RECORDING_ACTIVE, which
// resolves the waiting start call on whichever replica issued it.
func (s *Service) ConfirmActive(ctx context.Context, recordingID string) error {
	roomID, egressID, uid, err := data.ParseRecordingID(recordingID)
	if err != nil {
		return err
	}
	held, err := s.locks.Exists(ctx, locks.RecordingActive(roomID))
	if err != nil {
		return err
	}
	if !held {
		s.logger.Warn("egress confirmed for a room without a recording lock",
			zap.String("recordingId", recordingID))
	}

	if _, err := s.recordings.Update(ctx, recordingID, func(rec *data.Recording) error {
		if rec.Status.IsTerminal() {
			return nil // late delivery, terminal state wins
		}
		rec.Status = data.RecordingActive
		return nil
	}); err != nil {
		if !errs.IsKind(err, errs.KindNotFound) {
			return err
		}
		// The confirmation can reach a replica before the starting replica's
		// metadata write lands. Upsert so the broadcast below still resolves
		// the waiting start call instead of letting it time out.
		if err := s.insertActive(ctx, recordingID, roomID, egressID, uid); err != nil {
			return err
		}
	}

	return s.bus.Broadcast(ctx, bus.RecordingActive, bus.Payload{
		"roomId":      roomID,
		"recordingId": recordingID,
	})
}

// insertActive reconstructs the metadata of a recording whose confirmation
// won the race against the start path's own write. Everything needed is in
// the recording id and the media file naming scheme.
func (s *Service) insertActive(ctx context.Context, recordingID, roomID, egressID, uid string) error {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	return s.recordings.Put(ctx, &data.Recording{
		RecordingID: recordingID,
		RoomID:      roomID,
		RoomName:    room.RoomName,
		EgressID:    egressID,
		UID:         uid,
		Status:      data.RecordingActive,
		StartedAt:   time.Now().UTC(),
		Path:        data.RecordingMediaKey(roomID, uid, mediaFileExt),
		Encoding: data.RecordingEncoding{
			Version:   encodingVersion,
			Container: mediaFileExt,
		},
	})
}

// ApplyProgress is the egress_updated transition: byte counters and duration
// only, never a state change.
func (s *Service) ApplyProgress(ctx context.Context, recordingID string, update EgressUpdate) error {
	_, err := s.recordings.Update(ctx, recordingID, func(rec *data.Recording) error {
		if rec.Status.IsTerminal() {
			return nil
		}
		rec.Size = update.Size
		rec.Duration = update.Duration
		return nil
	})
	return err
}

// Finish is the egress_ended transition: it lands the metadata in a terminal
// state, force-releases the room's recording lock (the starting replica may
// be gone) and broadcasts RECORDING_ENDED.
func (s *Service) Finish(ctx context.Context, recordingID string, status data.RecordingStatus, update EgressUpdate) error {
	if !status.IsTerminal() {
		return errs.Internal("finish called with non-terminal status "+string(status), nil)
	}
	roomID, _, _, err := data.ParseRecordingID(recordingID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := s.recordings.Update(ctx, recordingID, func(rec *data.Recording) error {
		if rec.Status.IsTerminal() {
			return nil // duplicate delivery
		}
		rec.Status = status
		rec.Size = update.Size
		rec.Duration = update.Duration
		rec.EndedAt = &now
		rec.Details = update.Failure
		return nil
	}); err != nil {
		return err
	}

	if err := s.locks.ReleaseByName(ctx, locks.RecordingActive(roomID)); err != nil {
		s.logger.Warn("releasing recording lock on egress end failed",
			zap.String("roomId", roomID), zap.Error(err))
	}

	return s.bus.Broadcast(ctx, bus.RecordingEnded, bus.Payload{
		"roomId":      roomID,
		"recordingId": recordingID,
		"status":      string(status),
	})
}

// HasInProgress reports whether the room still has a non-terminal recording;
// the webhook sink gates deferred room actions on it.
func (s *Service) HasInProgress(ctx context.Context, roomID string) (bool, error) {
	return s.recordings.HasInProgress(ctx, roomID)
}
