package rooms

import (
	"encoding/json"
	"strings"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/permissions"
)

// ViewOptions shape a room response: Fields selects top-level fields, Expand
// inlines collapsible subtrees, Perms (when non-nil) strips the fields the
// requester may not see.
type ViewOptions struct {
	Fields []string
	Expand []string
	Perms  *data.Permissions
}

// expandable subtrees are collapsed to an href stub unless expanded.
var expandableFields = []string{"config"}

// View serialises a room for the API. Secrets in anonymous entries are kept:
// only principals allowed to see "anonymous" at all (role managers) receive
// the field.
func View(room *data.Room, apiBase string, opts ViewOptions) map[string]any {
	raw, _ := json.Marshal(room)
	var view map[string]any
	_ = json.Unmarshal(raw, &view)

	for _, field := range expandableFields {
		if !contains(opts.Expand, field) {
			view[field] = map[string]any{
				"_expandable": true,
				"_href":       strings.TrimSuffix(apiBase, "/") + "/rooms/" + room.RoomID + "?expand=" + field,
			}
		}
	}

	if opts.Perms != nil {
		for _, field := range permissions.SensitiveRoomFields(*opts.Perms) {
			delete(view, field)
		}
	}

	if len(opts.Fields) > 0 {
		keep := map[string]bool{"roomId": true} // identity always survives filtering
		for _, f := range opts.Fields {
			keep[f] = true
		}
		for k := range view {
			if !keep[k] {
				delete(view, k)
			}
		}
	}
	return view
}

// ParseCSV splits a comma-separated query value, dropping empties.
func ParseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
