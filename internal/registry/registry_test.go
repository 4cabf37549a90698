package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	terminated atomic.Int32
}

func (h *fakeHandle) Terminate() error {
	h.terminated.Add(1)
	return nil
}

func TestTryAcquire(t *testing.T) {
	r := New(2)

	a, ok := r.TryAcquire("a")
	require.True(t, ok)
	assert.Equal(t, "a", a.JobID)

	_, ok = r.TryAcquire("a")
	assert.False(t, ok, "same job twice")

	_, ok = r.TryAcquire("b")
	require.True(t, ok)

	_, ok = r.TryAcquire("c")
	assert.False(t, ok, "limit reached")
	assert.Equal(t, 2, r.InFlight())

	require.True(t, r.Release(a))
	_, ok = r.TryAcquire("c")
	assert.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, r.Running())
}

func TestDefaultLimit(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultLimit, r.Limit())
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New(3)
	l, ok := r.TryAcquire("a")
	require.True(t, ok)

	assert.True(t, r.Release(l))
	assert.False(t, r.Release(l))
	assert.False(t, r.Release(Lease{JobID: "unknown"}))
	assert.Equal(t, 0, r.InFlight())
}

func TestStopFreesSlotAndTerminates(t *testing.T) {
	r := New(1)
	l, ok := r.TryAcquire("a")
	require.True(t, ok)
	h := &fakeHandle{}
	require.True(t, r.Attach(l, h))

	assert.True(t, r.Stop("a"))
	assert.Equal(t, int32(1), h.terminated.Load())
	assert.Equal(t, 0, r.InFlight())
	assert.False(t, r.IsRunning("a"))
	assert.False(t, r.Stop("a"))

	// a new run of the same job must survive the late release of the stopped one
	l2, ok := r.TryAcquire("a")
	require.True(t, ok)
	assert.False(t, r.Release(l))
	assert.True(t, r.IsRunning("a"))
	assert.Equal(t, 1, r.InFlight())
	assert.True(t, r.Release(l2))
}

func TestAttachAfterStop(t *testing.T) {
	r := New(1)
	l, ok := r.TryAcquire("a")
	require.True(t, ok)

	assert.False(t, r.Stop("a"), "no process attached yet")
	assert.False(t, r.IsRunning("a"))
	assert.Equal(t, 0, r.InFlight())

	h := &fakeHandle{}
	assert.False(t, r.Attach(l, h))
	assert.Equal(t, int32(0), h.terminated.Load())
	assert.False(t, r.Release(l))
}

func TestStopAll(t *testing.T) {
	r := New(5)
	handles := make([]*fakeHandle, 3)
	for i := range handles {
		l, ok := r.TryAcquire(fmt.Sprintf("job-%d", i))
		require.True(t, ok)
		handles[i] = &fakeHandle{}
		require.True(t, r.Attach(l, handles[i]))
	}

	assert.Equal(t, 3, r.StopAll())
	assert.Equal(t, 0, r.InFlight())
	assert.Empty(t, r.Running())
	for _, h := range handles {
		assert.Equal(t, int32(1), h.terminated.Load())
	}
}

func TestAdmissionUnderContention(t *testing.T) {
	const limit = 3
	r := New(limit)

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l, ok := r.TryAcquire(jobID)
				if !ok {
					continue
				}
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				assert.LessOrEqual(t, r.InFlight(), limit)
				current.Add(-1)
				r.Release(l)
			}
		}(fmt.Sprintf("job-%d", i%10))
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), limit)
	assert.Equal(t, 0, r.InFlight())
}
