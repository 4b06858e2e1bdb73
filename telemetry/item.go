// Package telemetry defines the data model moved through the pipeline:
// per-device telemetry items, their identity keys, and the tier-agnostic
// query shapes used by the hot-read path.
package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
)

// Item is a single telemetry reading. Identity key is (DeviceID, Timestamp);
// items are immutable once written, so duplicate delivery of the same item
// overwrites identical data.
type Item struct {
	DeviceID   string         `json:"deviceId"`
	Timestamp  string         `json:"timestamp"` // RFC3339 UTC, lexically sortable
	Properties map[string]any `json:"properties"`
}

// Key returns the identity key "deviceId/timestamp".
func (i Item) Key() string {
	return i.DeviceID + "/" + i.Timestamp
}

// TimestampMs returns the item timestamp as Unix milliseconds,
// or an error if the timestamp is not valid RFC3339.
func (i Item) TimestampMs() (int64, error) {
	return timestamp.ParseString(i.Timestamp)
}

// EncodedSize returns the serialized byte size of the item, used by the
// chunker for bin-packing against the payload ceiling.
func (i Item) EncodedSize() int {
	data, err := json.Marshal(i)
	if err != nil {
		return 0
	}
	return len(data)
}

// Validate checks the item's identity fields and property values.
func (i Item) Validate() error {
	if i.DeviceID == "" {
		return errors.WrapInvalid(errors.ErrInvalidItem, "Item", "Validate", "deviceId is required")
	}
	if i.Timestamp == "" {
		return errors.WrapInvalid(errors.ErrInvalidItem, "Item", "Validate", "timestamp is required")
	}
	if _, err := timestamp.ParseString(i.Timestamp); err != nil {
		return errors.WrapInvalid(err, "Item", "Validate", "timestamp format")
	}
	for name, v := range i.Properties {
		if !isScalar(v) {
			return errors.WrapInvalid(errors.ErrInvalidItem, "Item", "Validate",
				fmt.Sprintf("property %q is not a scalar", name))
		}
	}
	return nil
}

// Select returns a copy of the item holding only the named properties.
// An empty selection keeps all properties.
func (i Item) Select(properties []string) Item {
	if len(properties) == 0 {
		return i
	}
	selected := make(map[string]any, len(properties))
	for _, name := range properties {
		if v, ok := i.Properties[name]; ok {
			selected[name] = v
		}
	}
	return Item{DeviceID: i.DeviceID, Timestamp: i.Timestamp, Properties: selected}
}

// isScalar reports whether a decoded JSON value is a scalar.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, json.Number:
		return true
	default:
		return false
	}
}

// Query is a hot-read request: either a time range or latest-only,
// optionally narrowed to selected properties.
type Query struct {
	DeviceID   string   `json:"deviceId"`
	StartTime  string   `json:"startTime,omitempty"` // RFC3339, inclusive
	EndTime    string   `json:"endTime,omitempty"`   // RFC3339, inclusive
	LatestOnly bool     `json:"latestOnly,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// Validate checks the query shape. LatestOnly and a time range are
// mutually exclusive; a range query needs both bounds.
func (q Query) Validate() error {
	if q.DeviceID == "" {
		return errors.WrapInvalid(errors.ErrInvalidQuery, "Query", "Validate", "deviceId is required")
	}
	if q.LatestOnly {
		if q.StartTime != "" || q.EndTime != "" {
			return errors.WrapInvalid(errors.ErrInvalidQuery, "Query", "Validate",
				"latestOnly excludes a time range")
		}
		return nil
	}
	if q.StartTime == "" || q.EndTime == "" {
		return errors.WrapInvalid(errors.ErrInvalidQuery, "Query", "Validate",
			"startTime and endTime are required unless latestOnly")
	}
	start, err := timestamp.ParseString(q.StartTime)
	if err != nil {
		return errors.WrapInvalid(err, "Query", "Validate", "startTime format")
	}
	end, err := timestamp.ParseString(q.EndTime)
	if err != nil {
		return errors.WrapInvalid(err, "Query", "Validate", "endTime format")
	}
	if end < start {
		return errors.WrapInvalid(errors.ErrInvalidQuery, "Query", "Validate", "endTime before startTime")
	}
	return nil
}

// Result is the tier-agnostic property-value shape returned by the
// hot-read path.
type Result struct {
	DeviceID string  `json:"deviceId"`
	Values   []Value `json:"values"`
}

// Value is one timestamped property set within a Result.
type Value struct {
	Timestamp  string         `json:"timestamp"`
	Properties map[string]any `json:"properties"`
}

// NewResult builds a Result from items, applying the query's property
// selection. Items are assumed to already be in timestamp order.
func NewResult(deviceID string, items []Item, properties []string) Result {
	res := Result{DeviceID: deviceID, Values: make([]Value, 0, len(items))}
	for _, item := range items {
		selected := item.Select(properties)
		res.Values = append(res.Values, Value{
			Timestamp:  selected.Timestamp,
			Properties: selected.Properties,
		})
	}
	return res
}
