package guard

import (
	"encoding/json"
	"fmt"
	"time"
)

// snapshot is the stored form of Fields: unix seconds, null for unset.
type snapshot struct {
	TimeOpen  *int64 `json:"timeopen"`
	TimeClose *int64 `json:"timeclose"`
	TimeLimit *int64 `json:"timelimit"`
}

// EncodeSnapshot serializes override fields for the audit table.
func EncodeSnapshot(f Fields) (string, error) {
	var s snapshot
	if f.Open != nil {
		v := UnixOrZero(*f.Open)
		s.TimeOpen = &v
	}
	if f.Close != nil {
		v := UnixOrZero(*f.Close)
		s.TimeClose = &v
	}
	if f.Duration != nil {
		v := int64(*f.Duration / time.Second)
		s.TimeLimit = &v
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(b), nil
}

func DecodeSnapshot(raw string) (Fields, error) {
	var s snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Fields{}, fmt.Errorf("decode snapshot: %w", err)
	}
	var f Fields
	if s.TimeOpen != nil {
		f.Open = TimePtr(FromUnix(*s.TimeOpen))
	}
	if s.TimeClose != nil {
		f.Close = TimePtr(FromUnix(*s.TimeClose))
	}
	if s.TimeLimit != nil {
		f.Duration = DurationPtr(time.Duration(*s.TimeLimit) * time.Second)
	}
	return f, nil
}

// FromUnix maps 0 to the zero time ("no bound").
func FromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func UnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
