package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desim/envir/sim"
)

// fakeNow returns a controllable wall clock.
func fakeNow() (func() time.Time, func(time.Duration)) {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }, func(d time.Duration) { t = t.Add(d) }
}

func TestClock_AccumulatesAcrossIntervals(t *testing.T) {
	now, advance := fakeNow()
	c := New(0, 0, WithNow(now))

	// GIVEN two run intervals separated by a pause
	c.Start()
	advance(2 * time.Second)
	c.Stop(10)
	advance(time.Hour) // paused time is not counted
	c.Start()
	advance(3 * time.Second)
	c.Stop(20)

	// THEN elapsed is the sum of the intervals
	assert.Equal(t, 5*time.Second, c.TotalElapsed())
	assert.Equal(t, sim.Time(20), c.SimulatedTime())
	assert.Equal(t, Stopped, c.State())
}

func TestClock_RealTimeAccumulation(t *testing.T) {
	c := New(0, 0)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop(0)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop(0)

	assert.GreaterOrEqual(t, c.TotalElapsed(), 20*time.Millisecond)
	assert.Less(t, c.TotalElapsed(), 2*time.Second)
}

func TestClock_StopIsIdempotent(t *testing.T) {
	now, advance := fakeNow()
	c := New(0, 0, WithNow(now))

	c.Stop(5) // from Idle
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, sim.Time(0), c.SimulatedTime())

	c.Start()
	advance(time.Second)
	c.Stop(7)
	advance(time.Second)
	c.Stop(9) // second stop in a row

	assert.Equal(t, time.Second, c.TotalElapsed())
	assert.Equal(t, sim.Time(7), c.SimulatedTime())
}

func TestClock_TotalElapsedWhileRunning(t *testing.T) {
	now, advance := fakeNow()
	c := New(0, 0, WithNow(now))
	c.Start()
	advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, c.TotalElapsed())
	assert.Equal(t, Running, c.State())
}

func TestClock_Reset(t *testing.T) {
	now, advance := fakeNow()
	c := New(0, 0, WithNow(now))
	c.Start()
	advance(time.Second)
	c.Stop(3)
	c.Reset()
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, c.TotalElapsed())
	assert.Zero(t, c.SimulatedTime())
}

func TestClock_CheckLimits(t *testing.T) {
	now, advance := fakeNow()
	tests := []struct {
		name     string
		simLimit sim.Time
		cpuLimit time.Duration
		elapsed  time.Duration
		next     sim.Time
		want     *LimitReason
	}{
		{"unlimited", 0, 0, time.Hour, sim.MaxTime, nil},
		{"before sim limit", 100, 0, 0, 100, nil},
		{"past sim limit", 100, 0, 0, 101, reason(SimTimeLimit)},
		{"within cpu budget", 0, time.Second, time.Second, 0, nil},
		{"past cpu budget", 0, time.Second, time.Second + time.Millisecond, 0, reason(CPUTimeLimit)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.simLimit, tt.cpuLimit, WithNow(now))
			c.Start()
			advance(tt.elapsed)

			err := c.CheckLimits(tt.next)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var le *LimitError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, *tt.want, le.Reason)
		})
	}
}

func reason(r LimitReason) *LimitReason { return &r }
