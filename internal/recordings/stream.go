package recordings

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

// defaultRangeWindow bounds an open-ended Range request so a single request
// never materialises a whole recording in memory.
const defaultRangeWindow = int64(5 * 1024 * 1024)

// Stream is a (possibly partial) media read. Start/End are the inclusive
// byte bounds actually served; Partial distinguishes 206 from 200.
type Stream struct {
	Reader   io.Reader
	FileSize int64
	Start    int64
	End      int64
	Partial  bool
}

// OpenStream serves GET /recordings/{id}/media. rangeHeader is the raw Range
// header, empty for a full read.
func (s *Service) OpenStream(ctx context.Context, recordingID, rangeHeader string) (*Stream, error) {
	rec, err := s.recordings.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	if rangeHeader == "" {
		raw, err := s.recordings.St.Objects.Get(ctx, rec.Path)
		if err != nil {
			return nil, err
		}
		size := int64(len(raw))
		return &Stream{Reader: bytes.NewReader(raw), FileSize: size, Start: 0, End: size - 1}, nil
	}

	start, end, err := parseRange(rangeHeader)
	if err != nil {
		return nil, err
	}
	if end < 0 {
		end = start + defaultRangeWindow - 1
	}
	raw, total, err := s.recordings.St.Objects.GetRange(ctx, rec.Path, start, end)
	if err != nil {
		return nil, err
	}
	return &Stream{
		Reader:   bytes.NewReader(raw),
		FileSize: total,
		Start:    start,
		End:      start + int64(len(raw)) - 1,
		Partial:  true,
	}, nil
}

// parseRange accepts the single-range form bytes=start-end with an optional
// end. Suffix and multi-range forms are rejected.
func parseRange(header string) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, errs.RangeNotSatisfiable("unsupported Range header: " + header)
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok || from == "" {
		return 0, 0, errs.RangeNotSatisfiable("unsupported Range header: " + header)
	}
	start, err = strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errs.RangeNotSatisfiable("malformed Range start: " + header)
	}
	if to == "" {
		return start, -1, nil
	}
	end, err = strconv.ParseInt(to, 10, 64)
	if err != nil || end < start {
		return 0, 0, errs.RangeNotSatisfiable(fmt.Sprintf("malformed Range %d-%s", start, to))
	}
	return start, end, nil
}
