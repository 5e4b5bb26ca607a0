package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// FlexTime is a timestamp that tolerates the wire representations produced
// by different document store SDK versions: RFC 3339 strings, numeric epochs
// in seconds or milliseconds, and native {seconds, nanos} timestamp objects.
// Unmarshaling never fails; unparseable input falls back to the current time.
type FlexTime struct {
	time.Time
}

// Now returns the current time as a FlexTime.
func Now() FlexTime {
	return FlexTime{time.Now().UTC()}
}

// At wraps a time.Time.
func At(t time.Time) FlexTime {
	return FlexTime{t}
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Time = time.Now().UTC()
		return nil
	}
	t.Time = CoerceTime(v)
	return nil
}

// stringLayouts are tried in order when coercing a string timestamp.
var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CoerceTime converts a decoded JSON value into a time.Time. It accepts
// strings, numeric epochs (seconds or milliseconds, distinguished by
// magnitude), {seconds, nanos} objects, and stringified numbers. Anything
// unrecognized, including nil, yields the current time.
func CoerceTime(v any) time.Time {
	now := time.Now().UTC()

	switch val := v.(type) {
	case nil:
		return now
	case string:
		for _, layout := range stringLayouts {
			if parsed, err := time.Parse(layout, val); err == nil {
				return parsed
			}
		}
		if n, err := strconv.ParseFloat(val, 64); err == nil {
			return epochToTime(n)
		}
		return now
	case float64:
		return epochToTime(val)
	case json.Number:
		if n, err := val.Float64(); err == nil {
			return epochToTime(n)
		}
		return now
	case map[string]any:
		// Document-native timestamp: {"seconds": ..., "nanos": ...},
		// with older SDKs emitting underscore-prefixed keys.
		for _, key := range []string{"seconds", "_seconds"} {
			if secs, ok := val[key].(float64); ok {
				var nanos float64
				if n, ok := val["nanos"].(float64); ok {
					nanos = n
				} else if n, ok := val["_nanoseconds"].(float64); ok {
					nanos = n
				}
				return time.Unix(int64(secs), int64(nanos)).UTC()
			}
		}
		return now
	default:
		return now
	}
}

// epochToTime interprets n as epoch milliseconds when it is too large to be
// a plausible epoch-seconds value.
func epochToTime(n float64) time.Time {
	const msThreshold = 1e11 // ~year 5138 in seconds, ~1973 in milliseconds
	if n >= msThreshold || n <= -msThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
