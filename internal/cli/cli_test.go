package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = Run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
		stderr string
	}{
		{"cron", []string{"validate", "0 8 * * 1"}, 0, "valid cron schedule\n", ""},
		{"calendar", []string{"validate", `{"weekdays":[1],"times":[{"hour":8,"minute":0}]}`}, 0, "valid calendar schedule\n", ""},
		{"bad cron", []string{"validate", "0 25 * * *"}, 1, "", "invalid cron expression"},
		{"bad calendar", []string{"validate", `{"months":[13]}`}, 1, "", "months"},
		{"malformed json", []string{"validate", `{"weekdays":[1`}, 1, "", "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := run(tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.stdout, stdout)
			assert.Contains(t, stderr, tt.stderr)
		})
	}
}

func TestNormalize(t *testing.T) {
	code, stdout, _ := run("normalize", `{ "times": [ {"minute": 5, "hour": 7} ], "months": [1] }`)
	assert.Equal(t, 0, code)
	assert.Equal(t, `{"months":[1],"times":[{"hour":7,"minute":5}]}`+"\n", stdout)

	code, stdout, _ = run("normalize", "  */10 * * * *  ")
	assert.Equal(t, 0, code)
	assert.Equal(t, "*/10 * * * *\n", stdout)
}

func TestMatch(t *testing.T) {
	cal := `{"weekdays":[1],"times":[{"hour":8,"minute":0}]}`

	code, stdout, _ := run("match", cal, "--at", "2024-06-03T08:00:42Z", "--tz", "UTC")
	assert.Equal(t, 0, code)
	assert.Equal(t, "2024-06-03T08:00:00Z true\n", stdout)

	_, stdout, _ = run("match", cal, "--at", "2024-06-03T08:01:00Z", "--tz", "UTC")
	assert.Equal(t, "2024-06-03T08:01:00Z false\n", stdout)

	_, stdout, _ = run("match", cal, "--at", "2024-06-04T08:00:00Z", "--tz", "UTC")
	assert.Equal(t, "2024-06-04T08:00:00Z false\n", stdout)

	code, _, stderr := run("match", cal, "--at", "yesterday")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid --at")

	code, _, stderr = run("match", cal, "--tz", "Mars/Olympus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid --tz")
}

func TestMatchUsesTimezone(t *testing.T) {
	// 06:00 UTC is 08:00 in Berlin during summer time.
	_, stdout, _ := run("match", "0 8 * * *", "--at", "2024-06-03T06:00:00Z", "--tz", "Europe/Berlin")
	assert.Equal(t, "2024-06-03T08:00:00+02:00 true\n", stdout)
}

func TestNext(t *testing.T) {
	code, stdout, _ := run("next", "30 9 * * 1-5", "--from", "2024-06-07T10:00:00Z", "--tz", "UTC", "-n", "3")
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{
		"2024-06-10T09:30:00Z",
		"2024-06-11T09:30:00Z",
		"2024-06-12T09:30:00Z",
	}, strings.Fields(stdout))

	code, _, stderr := run("next", `{"years":[2020]}`, "--from", "2024-06-07T10:00:00Z", "--horizon", "24h")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "does not fire")

	code, _, stderr = run("next", "* * * * *", "--count", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--count")
}

func TestUsageErrors(t *testing.T) {
	code, _, stderr := run("validate")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr, "parse args")

	code, stdout, _ := run()
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "schedulectl")
}
