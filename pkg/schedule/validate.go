package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const calendarSchemaURL = "https://job-scheduler.local/schemas/calendar.json"

//go:embed calendar.schema.json
var calendarSchemaBytes []byte

var schemaPrinter = message.NewPrinter(language.English)

var (
	calendarSchemaOnce sync.Once
	calendarSchema     *jsonschema.Schema
	calendarSchemaErr  error
)

// ValidationError describes why a schedule was rejected.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// IsValidationError reports whether err (or anything it wraps) is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a raw JSON schedule value: either a JSON string holding a cron
// expression or a calendar object.
func Validate(raw json.RawMessage) error {
	_, err := Parse(raw)
	return err
}

func loadCalendarSchema() (*jsonschema.Schema, error) {
	calendarSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(calendarSchemaBytes))
		if err != nil {
			calendarSchemaErr = fmt.Errorf("parse embedded calendar schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(calendarSchemaURL, doc); err != nil {
			calendarSchemaErr = fmt.Errorf("add embedded calendar schema: %w", err)
			return
		}
		calendarSchema, calendarSchemaErr = c.Compile(calendarSchemaURL)
		if calendarSchemaErr != nil {
			calendarSchemaErr = fmt.Errorf("compile embedded calendar schema: %w", calendarSchemaErr)
		}
	})
	return calendarSchema, calendarSchemaErr
}

func parseCalendar(raw []byte) (*Calendar, error) {
	sch, err := loadCalendarSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid calendar schedule: %v", err)}
	}
	if err := sch.Validate(doc); err != nil {
		return nil, &ValidationError{Msg: "invalid calendar schedule: " + formatSchemaErr(err)}
	}

	var cal Calendar
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cal); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid calendar schedule: %v", err)}
	}
	return &cal, nil
}

// formatSchemaErr flattens the leaf causes of a schema failure into one line.
func formatSchemaErr(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	collectLeafErrors(ve, &msgs)
	if len(msgs) == 0 {
		return strings.Join(strings.Fields(ve.Error()), " ")
	}
	return strings.Join(msgs, "; ")
}

func collectLeafErrors(ve *jsonschema.ValidationError, msgs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*msgs = append(*msgs, fmt.Sprintf("at %s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, cause := range ve.Causes {
		collectLeafErrors(cause, msgs)
	}
}
