package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron expressions take an optional leading seconds field, so both the classic
// five-field and the six-field form are accepted.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func parseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &ValidationError{Msg: "cron expression is empty"}
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid cron expression %q: interval descriptors are not supported", expr)}
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid cron expression %q: %v", expr, err)}
	}
	return sched, nil
}

// cronFiresWithin reports whether sched fires at any second of the minute starting at t.
func cronFiresWithin(sched cron.Schedule, t time.Time) bool {
	// Next is strictly after its argument, so step back one second to include t itself.
	next := sched.Next(t.Add(-time.Second))
	if next.IsZero() {
		return false
	}
	return next.Before(t.Add(time.Minute))
}
