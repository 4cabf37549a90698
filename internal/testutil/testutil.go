// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0xPuncker/job-scheduler/pkg/types"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Clock is a settable time source for schedulers and pollers under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type JobCreator interface {
	CreateJob(ctx context.Context, job *types.Job) error
}

// CreateJob stores an enabled job and returns it with its assigned ID.
func CreateJob(t *testing.T, st JobCreator, name, schedule string, commands ...string) types.Job {
	t.Helper()
	job := &types.Job{Name: name, Commands: commands, Schedule: schedule, Enabled: true}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return *job
}

var loadEnvOnce sync.Once

// RequireEnv returns the value of key, skipping the test when it is unset.
// Variables from .env.test at the module root are loaded first.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	loadEnvOnce.Do(loadTestEnv)
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set (export it or add it to .env.test)", key)
	}
	return value
}

func loadTestEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			envFile := filepath.Join(dir, ".env.test")
			if _, err := os.Stat(envFile); err == nil {
				_ = godotenv.Load(envFile)
			}
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
