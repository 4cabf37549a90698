// Package cli implements schedulectl, an offline tool for checking job schedules.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/schedule"
	"github.com/alecthomas/kong"
)

type root struct {
	Timezone string `name:"tz" help:"IANA time zone used to evaluate schedules (default: local)."`

	Validate  validateCmd  `cmd:"" help:"Check that a schedule is well formed."`
	Normalize normalizeCmd `cmd:"" help:"Print the storage form of a schedule."`
	Match     matchCmd     `cmd:"" help:"Report whether a schedule fires at a given minute."`
	Next      nextCmd      `cmd:"" help:"List the next minutes a schedule fires."`

	out io.Writer `kong:"-"`
}

func (r *root) location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid --tz: %w", err)
	}
	return loc, nil
}

type validateCmd struct {
	Schedule string `arg:"" help:"Cron expression or calendar JSON object."`
}

func (c *validateCmd) Run(app *root) error {
	spec, err := schedule.FromStorageForm(c.Schedule)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "valid %s schedule\n", spec.Kind)
	return nil
}

type normalizeCmd struct {
	Schedule string `arg:"" help:"Cron expression or calendar JSON object."`
}

func (c *normalizeCmd) Run(app *root) error {
	stored, err := schedule.Normalize(c.Schedule)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.out, stored)
	return nil
}

type matchCmd struct {
	Schedule string `arg:"" help:"Cron expression or calendar JSON object."`
	At       string `name:"at" help:"RFC3339 instant to test (default: now)."`
}

func (c *matchCmd) Run(app *root) error {
	spec, err := schedule.FromStorageForm(c.Schedule)
	if err != nil {
		return err
	}
	loc, err := app.location()
	if err != nil {
		return err
	}
	t, err := parseInstant(c.At, "--at")
	if err != nil {
		return err
	}
	t = schedule.TruncateMinute(t.In(loc))

	fmt.Fprintf(app.out, "%s %t\n", t.Format(time.RFC3339), schedule.Matches(spec, t))
	return nil
}

type nextCmd struct {
	Schedule string        `arg:"" help:"Cron expression or calendar JSON object."`
	From     string        `name:"from" help:"RFC3339 instant to start after (default: now)."`
	Count    int           `name:"count" short:"n" default:"5" help:"Number of fire times to print."`
	Horizon  time.Duration `name:"horizon" default:"8784h" help:"How far ahead to scan."`
}

func (c *nextCmd) Run(app *root) error {
	if c.Count < 1 {
		return errors.New("--count must be at least 1")
	}
	spec, err := schedule.FromStorageForm(c.Schedule)
	if err != nil {
		return err
	}
	loc, err := app.location()
	if err != nil {
		return err
	}
	from, err := parseInstant(c.From, "--from")
	if err != nil {
		return err
	}

	fires := schedule.Next(spec, from.In(loc), c.Count, c.Horizon)
	if len(fires) == 0 {
		return fmt.Errorf("%w within %s", errNoFireTimes, c.Horizon)
	}
	for _, t := range fires {
		fmt.Fprintln(app.out, t.Format(time.RFC3339))
	}
	return nil
}

var errNoFireTimes = errors.New("schedule does not fire")

func parseInstant(value, flag string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return t, nil
}

// Run parses args and executes the selected command, returning the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		args = []string{"--help"}
	}

	cli := root{out: stdout}
	exitCode := -1
	k, err := kong.New(
		&cli,
		kong.Name("schedulectl"),
		kong.Description("Validate and preview job schedules (cron expressions or calendar JSON)."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintf(stderr, "init cli: %v\n", err)
		return 1
	}

	kctx, err := k.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		return parseExitCode(stderr, err)
	}

	if err := kctx.Run(); err != nil {
		fmt.Fprintf(stderr, "schedulectl: %v\n", err)
		return 1
	}
	return 0
}

func parseExitCode(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "parse args: %v\n", err)
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 2
}

// Main is the schedulectl entry point.
func Main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}
