package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FieldSnapshot is the lifecycle-tracked value of one custom field. Once a key
// has been observed its snapshot is only ever updated or marked deprecated.
type FieldSnapshot struct {
	Value      any       `json:"value"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Deprecated bool      `json:"deprecated"`
}

// MergeCustomFields merges the custom fields of an incoming payload into the
// existing snapshots observed at time t:
//   - a key present in incoming takes the new value, keeps its original
//     FirstSeen (or t when new), sets LastSeen to t and clears Deprecated;
//   - a key present only in existing is carried over unchanged except that it
//     is marked Deprecated.
//
// The existing map is not modified.
func MergeCustomFields(existing map[string]FieldSnapshot, incoming map[string]any, t time.Time) map[string]FieldSnapshot {
	t = t.UTC()
	merged := make(map[string]FieldSnapshot, len(existing)+len(incoming))

	for key, value := range incoming {
		firstSeen := t
		if prev, ok := existing[key]; ok && !prev.FirstSeen.IsZero() {
			firstSeen = prev.FirstSeen
		}
		merged[key] = FieldSnapshot{
			Value:      value,
			FirstSeen:  firstSeen,
			LastSeen:   t,
			Deprecated: false,
		}
	}

	for key, prev := range existing {
		if _, ok := incoming[key]; ok {
			continue
		}
		prev.Deprecated = true
		merged[key] = prev
	}

	return merged
}

// PurgeDeprecated returns a copy of fields without the deprecated snapshots last
// seen before cutoff, along with the number of snapshots removed.
func PurgeDeprecated(fields map[string]FieldSnapshot, cutoff time.Time) (map[string]FieldSnapshot, int) {
	kept := make(map[string]FieldSnapshot, len(fields))
	var purged int
	for key, snap := range fields {
		if snap.Deprecated && snap.LastSeen.Before(cutoff) {
			purged++
			continue
		}
		kept[key] = snap
	}
	return kept, purged
}

// CustomValues flattens snapshots to their values, dropping deprecated fields
// unless includeDeprecated is set.
func CustomValues(fields map[string]FieldSnapshot, includeDeprecated bool) map[string]any {
	values := make(map[string]any, len(fields))
	for key, snap := range fields {
		if snap.Deprecated && !includeDeprecated {
			continue
		}
		values[key] = snap.Value
	}
	return values
}

// ColumnValue projects a raw known-field value onto its typed column. It returns
// nil when the value is absent or cannot be represented in the column's type.
func ColumnValue(f KnownField, v any) any {
	if v == nil {
		return nil
	}

	switch f.Kind {
	case KindBool:
		switch b := v.(type) {
		case bool:
			return boolInt(b)
		case string:
			switch strings.ToUpper(strings.TrimSpace(b)) {
			case "T", "TRUE":
				return 1
			case "F", "FALSE":
				return 0
			}
		}
		return nil
	case KindNumber:
		switch n := v.(type) {
		case float64:
			return n
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		}
		return nil
	case KindRef:
		return RefValue(v)
	default:
		switch s := v.(type) {
		case string:
			return s
		case float64, bool, json.Number:
			return stringify(s)
		}
		return nil
	}
}

// RefValue extracts the display value of a reference object {"id", "refName"},
// preferring refName. Plain strings are returned as-is.
func RefValue(v any) any {
	switch r := v.(type) {
	case map[string]any:
		if name, ok := r["refName"].(string); ok && name != "" {
			return name
		}
		if id, ok := r["id"]; ok && id != nil {
			return stringify(id)
		}
		return nil
	case string:
		return r
	}
	return nil
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
