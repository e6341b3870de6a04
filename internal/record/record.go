// Package record implements the shared conversation record and the locked
// update protocol that serializes concurrent writers against it.
//
// A Record is owned by whichever store persists it; foreman borrows it under
// the Locked flag and must never hold that flag across an update cycle. All
// mutations go through LockedUpdater — nothing else may write a record.
package record

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when the stored version changed since the
// caller last read the record.
var ErrVersionConflict = errors.New("record version conflict")

// Record is the shared, lockable entity multiple callers may update concurrently.
type Record struct {
	ID      string         `json:"id"`
	Locked  bool           `json:"locked"`
	Version int64          `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:      r.ID,
		Locked:  r.Locked,
		Version: r.Version,
		Fields:  cloneValue(r.Fields).(map[string]any),
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}

// StringSlice reads a []string-valued field, tolerating []any storage.
func (r *Record) StringSlice(key string) []string {
	switch val := r.Fields[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AppendString appends value to a []string field, creating it when absent.
func (r *Record) AppendString(key, value string) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[key] = append(r.StringSlice(key), value)
}

// CacheSet writes a key into the record's nested cache map.
func (r *Record) CacheSet(key string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	cache, ok := r.Fields["cache"].(map[string]any)
	if !ok {
		cache = map[string]any{}
		r.Fields["cache"] = cache
	}
	cache[key] = value
}

// Store is the narrow contract foreman consumes from the persistence layer.
// Update must reject writes whose Version no longer matches the stored record.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, rec *Record) error
}
