package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// SeatSet is an ordered set of seat labels stored as a JSON array column.
// Labels are free-form venue strings ("A12", "balcony-3") and compared exactly.
type SeatSet []string

// Contains reports whether the set holds the given seat label.
func (s SeatSet) Contains(seat string) bool {
	for _, v := range s {
		if v == seat {
			return true
		}
	}
	return false
}

// Intersect returns the labels present in both sets, in the order of s.
func (s SeatSet) Intersect(other SeatSet) SeatSet {
	var out SeatSet
	for _, v := range other {
		if s.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Add returns a new set with the given seats appended, skipping duplicates.
func (s SeatSet) Add(seats SeatSet) SeatSet {
	out := make(SeatSet, len(s), len(s)+len(seats))
	copy(out, s)
	for _, v := range seats {
		if !out.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Remove returns a new set without the given seats.
func (s SeatSet) Remove(seats SeatSet) SeatSet {
	out := make(SeatSet, 0, len(s))
	for _, v := range s {
		if !seats.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// HasDuplicates reports whether any label appears more than once.
func (s SeatSet) HasDuplicates() bool {
	seen := make(map[string]struct{}, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}

// Sorted returns a sorted copy, used to keep conflict reports deterministic.
func (s SeatSet) Sorted() SeatSet {
	out := make(SeatSet, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

func (s SeatSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal seat set: %w", err)
	}
	return string(b), nil
}

func (s *SeatSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into SeatSet", value)
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(s))
}
