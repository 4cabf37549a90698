// Package schedule implements the two job schedule forms (cron expressions and
// calendar whitelists), their single-string storage encoding and the
// minute-granular matcher used by the polling loop.
package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind tells which representation a Spec holds.
type Kind int

const (
	KindCron Kind = iota
	KindCalendar
)

func (k Kind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindCalendar:
		return "calendar"
	default:
		return "unknown"
	}
}

// Spec is a parsed, validated schedule.
type Spec struct {
	Kind     Kind
	Cron     string
	Calendar *Calendar

	cron cron.Schedule
}

// NewCron validates expr and returns a cron Spec.
func NewCron(expr string) (*Spec, error) {
	sched, err := parseCron(expr)
	if err != nil {
		return nil, err
	}
	return &Spec{Kind: KindCron, Cron: strings.TrimSpace(expr), cron: sched}, nil
}

// NewCalendar validates cal by round-tripping it through the calendar schema.
func NewCalendar(cal Calendar) (*Spec, error) {
	raw, err := json.Marshal(cal)
	if err != nil {
		return nil, fmt.Errorf("encode calendar schedule: %w", err)
	}
	parsed, err := parseCalendar(raw)
	if err != nil {
		return nil, err
	}
	return &Spec{Kind: KindCalendar, Calendar: parsed}, nil
}

// Parse reads a raw JSON schedule value as sent by API clients: a JSON string is
// a cron expression, a JSON object is a calendar schedule.
func Parse(raw json.RawMessage) (*Spec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &ValidationError{Msg: "schedule is required"}
	}
	switch raw[0] {
	case '"':
		var expr string
		if err := json.Unmarshal(raw, &expr); err != nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid schedule string: %v", err)}
		}
		return NewCron(expr)
	case '{':
		cal, err := parseCalendar(raw)
		if err != nil {
			return nil, err
		}
		return &Spec{Kind: KindCalendar, Calendar: cal}, nil
	default:
		return nil, &ValidationError{Msg: "schedule must be a cron string or a calendar object"}
	}
}

// FromStorageForm decodes a stored schedule. JSON decoding is attempted first;
// anything that is not JSON is taken as a literal cron expression.
func FromStorageForm(stored string) (*Spec, error) {
	s := strings.TrimSpace(stored)
	if s == "" {
		return nil, &ValidationError{Msg: "stored schedule is empty"}
	}
	if json.Valid([]byte(s)) {
		return Parse(json.RawMessage(s))
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return nil, &ValidationError{Msg: "stored schedule is malformed JSON"}
	}
	return NewCron(s)
}

// ToStorageForm validates a raw JSON schedule value and returns its storage string.
func ToStorageForm(raw json.RawMessage) (string, error) {
	spec, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return spec.StorageForm(), nil
}

// Normalize accepts free text (a cron expression or a calendar JSON object) and
// returns its storage string.
func Normalize(text string) (string, error) {
	spec, err := FromStorageForm(text)
	if err != nil {
		return "", err
	}
	return spec.StorageForm(), nil
}

// StorageForm is the single text value persisted for the spec.
func (s *Spec) StorageForm() string {
	if s == nil {
		return ""
	}
	if s.Kind == KindCron {
		return s.Cron
	}
	b, err := json.Marshal(s.Calendar)
	if err != nil {
		// Calendar only holds ints; Marshal cannot fail.
		panic(err)
	}
	return string(b)
}

func (s *Spec) String() string {
	return s.StorageForm()
}

// Matches reports whether t, truncated to the minute, is a firing instant of spec.
// A nil spec matches nothing.
func Matches(spec *Spec, t time.Time) bool {
	if spec == nil {
		return false
	}
	t = TruncateMinute(t)
	switch spec.Kind {
	case KindCalendar:
		if spec.Calendar == nil {
			return false
		}
		return spec.Calendar.matches(t)
	case KindCron:
		if spec.cron == nil {
			return false
		}
		return cronFiresWithin(spec.cron, t)
	default:
		return false
	}
}

// TruncateMinute zeroes the seconds and sub-second part of t, keeping its
// location and offset. Rebuilding the wall clock would pick the wrong offset
// in a repeated DST hour.
func TruncateMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// SameMinute reports whether a and b fall in the same wall-clock minute bucket.
func SameMinute(a, b time.Time) bool {
	return TruncateMinute(a).Equal(TruncateMinute(b.In(a.Location())))
}
