package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexFloat is a coordinate that the platform may send either as a JSON
// number or as a quoted string.
type FlexFloat float64

func (f FlexFloat) Float64() float64 {
	return float64(f)
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !Finite(float64(f)) {
		return nil, fmt.Errorf("coordinate %v is not a finite number", float64(f))
	}
	return []byte(strconv.FormatFloat(float64(f), 'f', -1, 64)), nil
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	v, ok := parseCoordinate(data)
	if ok {
		*f = FlexFloat(v)
	}
	return nil
}

// NewFlexFloat returns a pointer to v, for building locations by hand
func NewFlexFloat(v float64) *FlexFloat {
	f := FlexFloat(v)
	return &f
}

// UnmarshalJSON drops blank or unparseable coordinates instead of failing
// the whole record, so a single badly mapped egg cannot break a page.
func (l *Location) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string          `json:"name"`
		Lat      json.RawMessage `json:"lat"`
		Lon      json.RawMessage `json:"lon"`
		Ele      json.RawMessage `json:"ele"`
		Exposure string          `json:"exposure"`
		Domain   string          `json:"domain"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = Location{
		Name:      raw.Name,
		Lat:       coordinate(raw.Lat),
		Lon:       coordinate(raw.Lon),
		Elevation: coordinate(raw.Ele),
		Exposure:  raw.Exposure,
		Domain:    raw.Domain,
	}
	return nil
}

func coordinate(raw json.RawMessage) *FlexFloat {
	v, ok := parseCoordinate(raw)
	if !ok {
		return nil
	}
	return NewFlexFloat(v)
}

func parseCoordinate(raw []byte) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !Finite(v) {
		return 0, false
	}
	return v, true
}

// Finite reports whether v is neither NaN nor an infinity. ParseFloat
// accepts both, JSON encodes neither.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
