package janitor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
)

type fakeRegistry struct {
	sweeps    atomic.Int64
	reclaimed int64
}

func (f *fakeRegistry) SweepExpired() int {
	f.sweeps.Add(1)
	return int(f.reclaimed)
}

func (f *fakeRegistry) Stats() match.Stats {
	return match.Stats{Waiting: 1}
}

func TestJanitorSweepsOnSchedule(t *testing.T) {
	registry := &fakeRegistry{reclaimed: 1}
	j, err := New(10*time.Millisecond, registry, logging.NewTestLogger())
	require.NoError(t, err)

	j.Start()
	defer func() { assert.NoError(t, j.Stop()) }()

	deadline := time.Now().Add(2 * time.Second)
	for registry.sweeps.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, registry.sweeps.Load(), int64(3))
}

func TestJanitorStopHaltsSweeps(t *testing.T) {
	registry := &fakeRegistry{}
	j, err := New(10*time.Millisecond, registry, logging.NewTestLogger())
	require.NoError(t, err)

	j.Start()
	deadline := time.Now().Add(2 * time.Second)
	for registry.sweeps.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, j.Stop())

	//1.- No further sweeps may land after shutdown returns.
	settled := registry.sweeps.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, registry.sweeps.Load())
}

func TestJanitorDefaultsInterval(t *testing.T) {
	j, err := New(0, &fakeRegistry{}, logging.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, j.Stop())
}
