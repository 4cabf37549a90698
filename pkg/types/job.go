package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Job represents a user-defined job: one or more shell commands fired on a schedule.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Commands  []string  `json:"commands"`
	Schedule  string    `json:"schedule"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Script joins the job commands into a single newline separated shell script.
// Blank commands are dropped.
func (j *Job) Script() string {
	lines := make([]string, 0, len(j.Commands))
	for _, c := range j.Commands {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		lines = append(lines, c)
	}
	return strings.Join(lines, "\n")
}

// EncodeCommands is the text column encoding for Commands: a JSON array, so a
// command spanning several lines stays one command.
func EncodeCommands(commands []string) string {
	if commands == nil {
		commands = []string{}
	}
	b, _ := json.Marshal(commands)
	return string(b)
}

// DecodeCommands reverses EncodeCommands. Values that are not a JSON array are
// read as the older newline separated form.
func DecodeCommands(raw string) []string {
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			if len(out) == 0 {
				return nil
			}
			return out
		}
	}
	return SplitCommands(raw)
}

// SplitCommands decodes a newline separated command list, skipping blank lines.
func SplitCommands(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
