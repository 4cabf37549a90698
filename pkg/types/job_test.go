package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobScript(t *testing.T) {
	job := Job{Commands: []string{"echo one", "  ", "echo two  "}}
	assert.Equal(t, "echo one\necho two", job.Script())
}

func TestSplitCommands(t *testing.T) {
	assert.Equal(t, []string{"echo a", "echo b"}, SplitCommands("echo a\r\n\necho b"))
	assert.Nil(t, SplitCommands("\n  \n"))
}

func TestCommandsColumnEncoding(t *testing.T) {
	loop := "for i in 1 2; do\n  echo $i\ndone"
	commands := []string{loop, "echo after"}

	raw := EncodeCommands(commands)
	assert.Equal(t, `["for i in 1 2; do\n  echo $i\ndone","echo after"]`, raw)
	assert.Equal(t, commands, DecodeCommands(raw))

	assert.Equal(t, "[]", EncodeCommands(nil))
	assert.Nil(t, DecodeCommands("[]"))

	// rows written before the JSON encoding
	assert.Equal(t, []string{"echo a", "echo b"}, DecodeCommands("echo a\necho b"))
	assert.Equal(t, []string{"[ -f x ] && echo y"}, DecodeCommands("[ -f x ] && echo y"))
}
