package media

import (
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

// FileOutput describes where a room-composite recording lands in the object
// store.
type FileOutput struct {
	Filepath string
	S3       config.S3
}

// CompositeOptions tune a room-composite egress.
type CompositeOptions struct {
	Layout    string
	AudioOnly bool
}

// Adapter is the failure-typed facade over the media server. Every method
// returns the typed result or one of NotFound / Conflict / Unavailable /
// Internal; only Unavailable is retried (bounded, by the adapter itself).
type Adapter interface {
	CreateRoom(ctx context.Context, roomID string, emptyTimeout uint32, metadata string) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	ListRooms(ctx context.Context) ([]*livekit.Room, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
	GetRoom(ctx context.Context, roomID string) (*livekit.Room, error)
	GetParticipant(ctx context.Context, roomID, identity string) (*livekit.ParticipantInfo, error)
	RemoveParticipant(ctx context.Context, roomID, identity string) error
	UpdateParticipantMetadata(ctx context.Context, roomID, identity, metadata string) error
	SendData(ctx context.Context, roomID string, payload []byte, topic string, destinations []string) error
	StartRoomComposite(ctx context.Context, roomID string, out FileOutput, opts CompositeOptions) (*livekit.EgressInfo, error)
	StopEgress(ctx context.Context, egressID string) (*livekit.EgressInfo, error)
	GetEgress(ctx context.Context, roomID, egressID string) (*livekit.EgressInfo, error)
	InProgressRecordingEgress(ctx context.Context, roomID string) ([]*livekit.EgressInfo, error)
}

// LiveKit implements Adapter over the LiveKit server API.
type LiveKit struct {
	rooms  *lksdk.RoomServiceClient
	egress *lksdk.EgressClient
	logger *zap.Logger
}

func NewLiveKit(cfg config.LiveKit, logger *zap.Logger) *LiveKit {
	return &LiveKit{
		rooms:  lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		egress: lksdk.NewEgressClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		logger: logger,
	}
}

func (a *LiveKit) CreateRoom(ctx context.Context, roomID string, emptyTimeout uint32, metadata string) (*livekit.Room, error) {
	var room *livekit.Room
	err := withRetry(ctx, func() error {
		var err error
		room, err = a.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
			Name:         roomID,
			EmptyTimeout: emptyTimeout,
			Metadata:     metadata,
		})
		return mapErr(err)
	})
	return room, err
}

func (a *LiveKit) DeleteRoom(ctx context.Context, roomID string) error {
	return withRetry(ctx, func() error {
		_, err := a.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomID})
		return mapErr(err)
	})
}

func (a *LiveKit) ListRooms(ctx context.Context) ([]*livekit.Room, error) {
	var rooms []*livekit.Room
	err := withRetry(ctx, func() error {
		res, err := a.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{})
		if err != nil {
			return mapErr(err)
		}
		rooms = res.Rooms
		return nil
	})
	return rooms, err
}

func (a *LiveKit) GetRoom(ctx context.Context, roomID string) (*livekit.Room, error) {
	var room *livekit.Room
	err := withRetry(ctx, func() error {
		res, err := a.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{roomID}})
		if err != nil {
			return mapErr(err)
		}
		if len(res.Rooms) == 0 {
			return errs.NotFound("MEDIA_ROOM_NOT_FOUND", "media room not found: "+roomID)
		}
		room = res.Rooms[0]
		return nil
	})
	return room, err
}

func (a *LiveKit) RoomExists(ctx context.Context, roomID string) (bool, error) {
	_, err := a.GetRoom(ctx, roomID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *LiveKit) GetParticipant(ctx context.Context, roomID, identity string) (*livekit.ParticipantInfo, error) {
	var info *livekit.ParticipantInfo
	err := withRetry(ctx, func() error {
		var err error
		info, err = a.rooms.GetParticipant(ctx, &livekit.RoomParticipantIdentity{
			Room:     roomID,
			Identity: identity,
		})
		return mapErr(err)
	})
	return info, err
}

func (a *LiveKit) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	return withRetry(ctx, func() error {
		_, err := a.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
			Room:     roomID,
			Identity: identity,
		})
		return mapErr(err)
	})
}

func (a *LiveKit) UpdateParticipantMetadata(ctx context.Context, roomID, identity, metadata string) error {
	return withRetry(ctx, func() error {
		_, err := a.rooms.UpdateParticipant(ctx, &livekit.UpdateParticipantRequest{
			Room:     roomID,
			Identity: identity,
			Metadata: metadata,
		})
		return mapErr(err)
	})
}

func (a *LiveKit) SendData(ctx context.Context, roomID string, payload []byte, topic string, destinations []string) error {
	return withRetry(ctx, func() error {
		req := &livekit.SendDataRequest{
			Room:                  roomID,
			Data:                  payload,
			Kind:                  livekit.DataPacket_RELIABLE,
			DestinationIdentities: destinations,
		}
		if topic != "" {
			req.Topic = &topic
		}
		_, err := a.rooms.SendData(ctx, req)
		return mapErr(err)
	})
}

func (a *LiveKit) StartRoomComposite(ctx context.Context, roomID string, out FileOutput, opts CompositeOptions) (*livekit.EgressInfo, error) {
	var info *livekit.EgressInfo
	err := withRetry(ctx, func() error {
		var err error
		info, err = a.egress.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
			RoomName:  roomID,
			Layout:    opts.Layout,
			AudioOnly: opts.AudioOnly,
			FileOutputs: []*livekit.EncodedFileOutput{{
				FileType: livekit.EncodedFileType_MP4,
				Filepath: out.Filepath,
				Output: &livekit.EncodedFileOutput_S3{
					S3: &livekit.S3Upload{
						AccessKey:      out.S3.AccessKeyID,
						Secret:         out.S3.SecretAccessKey,
						Region:         out.S3.Region,
						Endpoint:       out.S3.Endpoint,
						Bucket:         out.S3.Bucket,
						ForcePathStyle: out.S3.ForcePathStyle,
					},
				},
			}},
		})
		return mapErr(err)
	})
	return info, err
}

func (a *LiveKit) StopEgress(ctx context.Context, egressID string) (*livekit.EgressInfo, error) {
	var info *livekit.EgressInfo
	err := withRetry(ctx, func() error {
		var err error
		info, err = a.egress.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: egressID})
		return mapErr(err)
	})
	return info, err
}

func (a *LiveKit) GetEgress(ctx context.Context, roomID, egressID string) (*livekit.EgressInfo, error) {
	var info *livekit.EgressInfo
	err := withRetry(ctx, func() error {
		res, err := a.egress.ListEgress(ctx, &livekit.ListEgressRequest{
			RoomName: roomID,
			EgressId: egressID,
		})
		if err != nil {
			return mapErr(err)
		}
		if len(res.Items) == 0 {
			return errs.NotFound("EGRESS_NOT_FOUND", "egress not found: "+egressID)
		}
		info = res.Items[0]
		return nil
	})
	return info, err
}

// InProgressRecordingEgress lists the room's non-terminal egresses; the
// orphan-lock GC keys off an empty result.
func (a *LiveKit) InProgressRecordingEgress(ctx context.Context, roomID string) ([]*livekit.EgressInfo, error) {
	var active []*livekit.EgressInfo
	err := withRetry(ctx, func() error {
		res, err := a.egress.ListEgress(ctx, &livekit.ListEgressRequest{
			RoomName: roomID,
			Active:   true,
		})
		if err != nil {
			return mapErr(err)
		}
		active = res.Items
		return nil
	})
	return active, err
}

// IsEgressInProgress mirrors the status set LiveKit treats as live.
func IsEgressInProgress(status livekit.EgressStatus) bool {
	switch status {
	case livekit.EgressStatus_EGRESS_STARTING,
		livekit.EgressStatus_EGRESS_ACTIVE,
		livekit.EgressStatus_EGRESS_ENDING:
		return true
	default:
		return false
	}
}

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
	retryCap      = 2 * time.Second
)

// withRetry retries only Unavailable, with bounded exponential backoff.
// NotFound and Conflict are never retried.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errs.Unavailable("MEDIA_SERVER_UNAVAILABLE", "media call cancelled", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > retryCap {
				delay = retryCap
			}
		}
		err = fn()
		if err == nil || !errs.IsKind(err, errs.KindUnavailable) {
			return err
		}
	}
	return err
}

// mapErr converts twirp/transport errors into the typed kinds the services
// branch on.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var te twirp.Error
	if errors.As(err, &te) {
		switch te.Code() {
		case twirp.NotFound:
			return errs.Wrap(errs.KindNotFound, "MEDIA_NOT_FOUND", te.Msg(), err)
		case twirp.AlreadyExists, twirp.Aborted, twirp.FailedPrecondition:
			return errs.Wrap(errs.KindConflict, "MEDIA_CONFLICT", te.Msg(), err)
		case twirp.Unavailable, twirp.DeadlineExceeded:
			return errs.Unavailable("MEDIA_SERVER_UNAVAILABLE", "media server unavailable", err)
		default:
			return errs.Wrap(errs.KindInternal, "MEDIA_INTERNAL", te.Msg(), err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Unavailable("MEDIA_SERVER_UNAVAILABLE", "media call cancelled", err)
	}
	// Anything non-twirp is a transport failure (connection refused, DNS).
	return errs.Unavailable("MEDIA_SERVER_UNAVAILABLE", "media server unreachable", err)
}
