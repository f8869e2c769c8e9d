package recordings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/auth"
	"github.com/openvidu/openvidu-meet/internal/bus"
	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/locks"
	"github.com/openvidu/openvidu-meet/internal/media"
)

const (
	recordingUIDLength = 10
	mediaFileExt       = "mp4"
	defaultLayout      = "speaker"
	encodingVersion    = 1
)

// Service owns the recording lifecycle. The recording_active_{roomId} lock is
// the cross-replica mutex guaranteeing at most one starting/active recording
// per room; it is taken here and released by the egress_ended webhook.
type Service struct {
	recordings data.RecordingModel
	rooms      data.RoomModel
	adapter    media.Adapter
	bus        *bus.Bus
	locks      *locks.Manager
	cfg        config.Recordings
	s3         config.S3
	logger     *zap.Logger
}

func NewService(st *data.Stores, adapter media.Adapter, b *bus.Bus, lockMgr *locks.Manager,
	cfg config.Recordings, s3 config.S3, logger *zap.Logger) *Service {
	return &Service{
		recordings: data.RecordingModel{St: st},
		rooms:      data.RoomModel{St: st},
		adapter:    adapter,
		bus:        b,
		locks:      lockMgr,
		cfg:        cfg,
		s3:         s3,
		logger:     logger,
	}
}

// StartOptions is the body of POST /internal-api/v1/recordings.
type StartOptions struct {
	RoomID    string `json:"roomId"`
	Layout    string `json:"layout,omitempty"`
	AudioOnly bool   `json:"audioOnly,omitempty"`
}

// Start launches a room-composite recording and blocks until the media
// server confirms it active (RECORDING_ACTIVE on the bus) or the configured
// window elapses.
func (s *Service) Start(ctx context.Context, opts StartOptions) (*data.Recording, error) {
	room, err := s.rooms.Get(ctx, opts.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.Config.Recording.Enabled {
		return nil, errs.Conflict("RECORDING_DISABLED", "recording is disabled for this room")
	}

	mediaRoom, err := s.adapter.GetRoom(ctx, room.RoomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.Conflict("ROOM_HAS_NO_PARTICIPANTS", "no meeting is in progress in the room")
		}
		return nil, err
	}
	if mediaRoom.NumParticipants == 0 {
		return nil, errs.Conflict("ROOM_HAS_NO_PARTICIPANTS", "the room has no participants to record")
	}

	lock, err := s.locks.Acquire(ctx, locks.RecordingActive(room.RoomID), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, errs.Conflict("RECORDING_ALREADY_STARTED", "a recording is already in progress for this room")
	}

	// Subscribe before the egress call: the confirmation webhook can beat
	// the RPC response. The lock guarantees at most one in-flight recording
	// per room, so the room id is a sufficient predicate.
	active, cancelWait := s.bus.Subscribe(bus.RecordingActive, func(p bus.Payload) bool {
		roomID, _ := p["roomId"].(string)
		return roomID == room.RoomID
	})
	defer cancelWait()

	uid := auth.RandomSuffix(recordingUIDLength)
	path := data.RecordingMediaKey(room.RoomID, uid, mediaFileExt)
	layout := opts.Layout
	if layout == "" {
		layout = defaultLayout
	}

	egress, err := s.adapter.StartRoomComposite(ctx, room.RoomID,
		media.FileOutput{Filepath: path, S3: s.s3},
		media.CompositeOptions{Layout: layout, AudioOnly: opts.AudioOnly})
	if err != nil {
		s.releaseLock(ctx, lock)
		return nil, err
	}

	recordingID := data.RecordingID(room.RoomID, egress.EgressId, uid)
	rec := &data.Recording{
		RecordingID: recordingID,
		RoomID:      room.RoomID,
		RoomName:    room.RoomName,
		EgressID:    egress.EgressId,
		UID:         uid,
		Status:      data.RecordingStarting,
		StartedAt:   time.Now().UTC(),
		Path:        path,
		Encoding: data.RecordingEncoding{
			Version:   encodingVersion,
			Container: mediaFileExt,
			AudioOnly: opts.AudioOnly,
		},
	}
	if err := s.recordings.Put(ctx, rec); err != nil {
		s.abortStart(ctx, lock, egress.EgressId, recordingID)
		return nil, err
	}

	timeout := time.NewTimer(s.cfg.StartTimeout)
	defer timeout.Stop()
	select {
	case <-active:
		return s.recordings.Get(ctx, recordingID)
	case <-timeout.C:
		s.abortStart(ctx, lock, egress.EgressId, recordingID)
		return nil, errs.Timeout("RECORDING_START_TIMEOUT", "the media server did not confirm the recording in time")
	case <-ctx.Done():
		s.abortStart(ctx, lock, egress.EgressId, recordingID)
		return nil, errs.Wrap(errs.KindTimeout, "RECORDING_START_TIMEOUT", "recording start cancelled", ctx.Err())
	}
}

// abortStart is the best-effort unwind of a start that will not be
// confirmed: stop the egress, mark the metadata failed, drop the lock.
func (s *Service) abortStart(ctx context.Context, lock *locks.Lock, egressID, recordingID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.adapter.StopEgress(ctx, egressID); err != nil && !errs.IsKind(err, errs.KindNotFound) {
		s.logger.Warn("stopping unconfirmed egress failed",
			zap.String("egressId", egressID), zap.Error(err))
	}
	if _, err := s.recordings.Update(ctx, recordingID, func(rec *data.Recording) error {
		if !rec.Status.IsTerminal() {
			rec.Status = data.RecordingFailed
			rec.Details = "start was not confirmed by the media server"
		}
		return nil
	}); err != nil {
		s.logger.Warn("marking unconfirmed recording failed",
			zap.String("recordingId", recordingID), zap.Error(err))
	}
	s.releaseLock(ctx, lock)
}

func (s *Service) releaseLock(ctx context.Context, lock *locks.Lock) {
	if err := s.locks.Release(context.WithoutCancel(ctx), lock); err != nil {
		s.logger.Warn("recording lock release failed", zap.String("lock", lock.Name), zap.Error(err))
	}
}

// Stop requests the egress to finish. Completion (terminal metadata, lock
// release) happens on the egress_ended webhook, not inline, so stop behaves
// identically no matter which replica started the recording.
func (s *Service) Stop(ctx context.Context, recordingID string) (*data.Recording, error) {
	roomID, egressID, _, err := data.ParseRecordingID(recordingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.recordings.Get(ctx, recordingID); err != nil {
		return nil, err
	}

	egress, err := s.adapter.GetEgress(ctx, roomID, egressID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return nil, errs.Conflict("RECORDING_ALREADY_STOPPED", "the recording is not in progress")
		}
		return nil, err
	}

	switch {
	case isEgressActive(egress.Status.String()):
		if _, err := s.adapter.StopEgress(ctx, egressID); err != nil {
			return nil, err
		}
	case isEgressStarting(egress.Status.String()):
		return nil, errs.Conflict("CANNOT_BE_STOPPED_WHILE_STARTING", "the recording has not finished starting yet")
	default:
		return nil, errs.Conflict("RECORDING_ALREADY_STOPPED", "the recording is not in progress")
	}

	return s.recordings.Update(ctx, recordingID, func(rec *data.Recording) error {
		if !rec.Status.IsTerminal() {
			rec.Status = data.RecordingEnding
		}
		return nil
	})
}

func isEgressActive(status string) bool {
	return status == "EGRESS_ACTIVE" || status == "EGRESS_ENDING"
}

func isEgressStarting(status string) bool {
	return status == "EGRESS_STARTING"
}

func (s *Service) Get(ctx context.Context, recordingID string) (*data.Recording, error) {
	return s.recordings.Get(ctx, recordingID)
}

// ListPage is one page of GET /recordings.
type ListPage struct {
	Recordings    []*data.Recording
	NextPageToken string
}

const maxListItems = 100

func (s *Service) List(ctx context.Context, roomID string, maxItems int, pageToken string) (*ListPage, error) {
	if maxItems <= 0 {
		maxItems = 50
	}
	if maxItems > maxListItems {
		return nil, errs.Validation("maxItems out of range",
			errs.FieldError{Field: "maxItems", Message: "must be at most 100"})
	}
	var (
		recs []*data.Recording
		next string
		err  error
	)
	if roomID != "" {
		recs, next, err = s.recordings.ListByRoom(ctx, roomID, maxItems, pageToken)
	} else {
		recs, next, err = s.recordings.ListAll(ctx, maxItems, pageToken)
	}
	if err != nil {
		return nil, err
	}
	return &ListPage{Recordings: recs, NextPageToken: next}, nil
}

// Delete removes a terminal recording's artefacts. When it was the room's
// last one, the room's access manifest goes too.
func (s *Service) Delete(ctx context.Context, recordingID string) error {
	rec, err := s.recordings.Get(ctx, recordingID)
	if err != nil {
		return err
	}
	if !rec.Status.IsTerminal() {
		return errs.Conflict("RECORDING_NOT_STOPPED", "the recording must be stopped before deletion")
	}
	if err := s.recordings.St.Objects.Delete(ctx, rec.Path); err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if err := s.recordings.DeleteMeta(ctx, rec); err != nil {
		return err
	}

	remaining, err := s.recordings.RoomHasRemainingArtefacts(ctx, rec.RoomID)
	if err != nil {
		return err
	}
	if !remaining {
		if err := s.recordings.St.Objects.Delete(ctx, data.RecordingSecretsKey(rec.RoomID)); err != nil && !errs.IsKind(err, errs.KindNotFound) {
			s.logger.Warn("deleting recording access manifest failed",
				zap.String("roomId", rec.RoomID), zap.Error(err))
		}
	}
	s.logger.Info("recording deleted", zap.String("recordingId", recordingID))
	return nil
}

// BulkDeleteResult aggregates per-recording outcomes.
type BulkDeleteResult struct {
	Deleted    []string         `json:"deleted"`
	NotDeleted []BulkDeleteFail `json:"notDeleted"`
}

type BulkDeleteFail struct {
	RecordingID string `json:"recordingId"`
	Error       string `json:"error"`
}

func (s *Service) BulkDelete(ctx context.Context, recordingIDs []string) *BulkDeleteResult {
	seen := make(map[string]bool, len(recordingIDs))
	result := &BulkDeleteResult{Deleted: []string{}, NotDeleted: []BulkDeleteFail{}}
	for _, id := range recordingIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.Delete(ctx, id); err != nil {
			result.NotDeleted = append(result.NotDeleted, BulkDeleteFail{RecordingID: id, Error: errs.CodeOf(err)})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	return result
}

// DownloadURL returns a short-lived pre-signed link to the media file.
func (s *Service) DownloadURL(ctx context.Context, recordingID string, ttl time.Duration) (string, error) {
	rec, err := s.recordings.Get(ctx, recordingID)
	if err != nil {
		return "", err
	}
	if rec.Status != data.RecordingComplete {
		return "", errs.Conflict("RECORDING_NOT_STOPPED", "the recording has no downloadable media yet")
	}
	return s.recordings.St.Objects.SignedURL(ctx, rec.Path, ttl)
}
