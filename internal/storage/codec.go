package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// scheduleDoc is the file layout: {"schedules":[...]}.
type scheduleDoc struct {
	Schedules []Record `json:"schedules"`
}

// decodeSchedules accepts the wrapped document or a bare array. Each element
// starts from DefaultRecord so missing fields keep their defaults.
func decodeSchedules(b []byte) ([]Record, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorrupt)
	}

	var raws []json.RawMessage
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	case '{':
		var doc struct {
			Schedules []json.RawMessage `json:"schedules"`
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		raws = doc.Schedules
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrCorrupt, b[0])
	}

	out := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec := DefaultRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: schedule %d: %w", ErrCorrupt, i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeSchedules(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	return json.MarshalIndent(scheduleDoc{Schedules: recs}, "", "  ")
}
