package recordings

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

func TestParseRange(t *testing.T) {
	cases := []struct {
		header     string
		start, end int64
		ok         bool
	}{
		{"bytes=0-499", 0, 499, true},
		{"bytes=500-", 500, -1, true},
		{"bytes=0-0", 0, 0, true},
		{"", 0, 0, false},
		{"bytes=-500", 0, 0, false},         // suffix form unsupported
		{"bytes=0-499,600-999", 0, 0, false}, // multi-range unsupported
		{"bytes=abc-def", 0, 0, false},
		{"bytes=500-100", 0, 0, false},
		{"items=0-499", 0, 0, false},
		{"bytes=500", 0, 0, false},
	}
	for _, tc := range cases {
		start, end, err := parseRange(tc.header)
		if !tc.ok {
			assert.Truef(t, errs.IsKind(err, errs.KindRangeNotSatisfiable), "header %q", tc.header)
			continue
		}
		require.NoErrorf(t, err, "header %q", tc.header)
		assert.Equal(t, tc.start, start)
		assert.Equal(t, tc.end, end)
	}
}

func streamBytes(t *testing.T, s *Stream) []byte {
	t.Helper()
	raw, err := io.ReadAll(s.Reader)
	require.NoError(t, err)
	return raw
}

func TestOpenStreamFullRead(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rec := fx.seedRecording(t, "demo", "EG_1", "uid1", data.RecordingComplete)
	require.NoError(t, fx.objects.Put(ctx, rec.Path, []byte("0123456789")))

	stream, err := fx.svc.OpenStream(ctx, rec.RecordingID, "")
	require.NoError(t, err)
	assert.False(t, stream.Partial)
	assert.Equal(t, int64(10), stream.FileSize)
	assert.Equal(t, int64(0), stream.Start)
	assert.Equal(t, int64(9), stream.End)
	assert.Equal(t, "0123456789", string(streamBytes(t, stream)))
}

func TestOpenStreamPartialRead(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rec := fx.seedRecording(t, "demo", "EG_1", "uid1", data.RecordingComplete)
	require.NoError(t, fx.objects.Put(ctx, rec.Path, []byte("0123456789")))

	stream, err := fx.svc.OpenStream(ctx, rec.RecordingID, "bytes=2-5")
	require.NoError(t, err)
	assert.True(t, stream.Partial)
	assert.Equal(t, int64(10), stream.FileSize)
	assert.Equal(t, int64(2), stream.Start)
	assert.Equal(t, int64(5), stream.End)
	assert.Equal(t, "2345", string(streamBytes(t, stream)))
}

func TestOpenStreamOpenEndedClampsToFile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rec := fx.seedRecording(t, "demo", "EG_1", "uid1", data.RecordingComplete)
	require.NoError(t, fx.objects.Put(ctx, rec.Path, []byte("0123456789")))

	// Open-ended range: bounded by the window, clamped to the file here.
	stream, err := fx.svc.OpenStream(ctx, rec.RecordingID, "bytes=7-")
	require.NoError(t, err)
	assert.True(t, stream.Partial)
	assert.Equal(t, int64(7), stream.Start)
	assert.Equal(t, int64(9), stream.End)
	assert.Equal(t, "789", string(streamBytes(t, stream)))
}

func TestOpenStreamStartBeyondFile(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rec := fx.seedRecording(t, "demo", "EG_1", "uid1", data.RecordingComplete)
	require.NoError(t, fx.objects.Put(ctx, rec.Path, []byte("0123456789")))

	_, err := fx.svc.OpenStream(ctx, rec.RecordingID, "bytes=10-")
	assert.True(t, errs.IsKind(err, errs.KindRangeNotSatisfiable))
}

func TestOpenStreamMissingMedia(t *testing.T) {
	fx := newFixture(t)
	rec := fx.seedRecording(t, "demo", "EG_1", "uid1", data.RecordingComplete)
	_, err := fx.svc.OpenStream(context.Background(), rec.RecordingID, "")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
