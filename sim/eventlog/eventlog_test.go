package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desim/envir/sim"
	"github.com/desim/envir/sim/config"
)

type stubComponent struct {
	id   int
	path string
}

func (c *stubComponent) ID() int                                { return c.id }
func (c *stubComponent) FullPath() string                       { return c.path }
func (c *stubComponent) Statistics() []sim.StatisticDecl        { return nil }
func (c *stubComponent) Subscribe(string, sim.SignalListener)   {}
func (c *stubComponent) Unsubscribe(string, sim.SignalListener) {}

func newLog(t *testing.T, cfg config.Configuration) (*Controller, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "run.elog")
	return New(Options{File: path, Config: cfg, Attrs: map[string]string{"runid": "r1"}}), path
}

func TestController_SetRecording_WritesHeaderAndRecords(t *testing.T) {
	// GIVEN a controller with a file in a directory that does not exist yet
	c, path := newLog(t, nil)
	src := &stubComponent{id: 1, path: "net.source"}

	// WHEN recording is enabled and a few callbacks arrive
	require.NoError(t, c.SetRecording(true))
	c.ComponentCreated(src)
	c.SimulationBegin()
	c.EventExecuted(sim.Event{Number: 1, Time: 5, Component: src})
	c.MessageSent(sim.Message{ID: 7, Name: "job", SrcID: 1, DstID: 2, SendTime: 5, ArrivalTime: 5})
	c.LogLine(src, "hello")
	c.SimulationEnd("normal-end")
	require.NoError(t, c.Close())

	// THEN the file holds the header followed by one line per callback
	records, err := ReadFile(path)
	require.NoError(t, err)
	kinds := make([]Kind, len(records))
	for i, r := range records {
		kinds[i] = r.Kind
	}
	assert.Equal(t, []Kind{KindHeader, KindComponentCreated, KindSimulationBegin, KindEvent,
		KindMessageSent, KindLogLine, KindSimulationEnd}, kinds)
	assert.Equal(t, "r1", records[0].Attrs["runid"])
	assert.Equal(t, int64(5), records[4].T)
	assert.Equal(t, int64(1), records[4].Event)
	assert.Equal(t, "net.source", records[4].Component)
	assert.Equal(t, int64(7), records[4].Message.ID)
	assert.Equal(t, 6, c.Written())
}

func TestController_DisabledRecordingWritesNothing(t *testing.T) {
	c, path := newLog(t, nil)
	c.EventExecuted(sim.Event{Number: 1, Time: 1, Component: &stubComponent{id: 1, path: "net.a"}})
	require.NoError(t, c.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file without recording")
}

func TestController_ToggleKeepsFileOpen(t *testing.T) {
	// GIVEN recording that is switched off and on again
	c, path := newLog(t, nil)
	comp := &stubComponent{id: 1, path: "net.a"}
	require.NoError(t, c.SetRecording(true))
	c.EventExecuted(sim.Event{Number: 1, Time: 1, Component: comp})
	require.NoError(t, c.SetRecording(false))
	c.EventExecuted(sim.Event{Number: 2, Time: 2, Component: comp})
	require.NoError(t, c.SetRecording(true))
	require.NoError(t, c.SetRecordingIntervals("..10s"))
	c.EventExecuted(sim.Event{Number: 3, Time: 3, Component: comp})
	require.NoError(t, c.Close())

	// THEN a single header exists and the event recorded while off is missing
	records, err := ReadFile(path)
	require.NoError(t, err)
	s := Summarize(records)
	assert.Equal(t, 1, s.ByKind[KindHeader])
	assert.Equal(t, 2, s.Events)
	assert.Equal(t, int64(1), s.FirstEvent)
	assert.Equal(t, int64(3), s.LastEvent)
}

func TestController_RecordingIntervals(t *testing.T) {
	tests := []struct {
		name      string
		intervals string
		want      []int64 // recorded event numbers
	}{
		{name: "no intervals", intervals: "", want: []int64{1, 2, 3, 4, 5}},
		{name: "time range", intervals: "2s..3s", want: []int64{2, 3}},
		{name: "open start", intervals: "..1s", want: []int64{1}},
		{name: "open end by event number", intervals: "#4..", want: []int64{4, 5}},
		{name: "union of ranges", intervals: "..1s, #5..#5", want: []int64{1, 5}},
		{name: "mixed bounds", intervals: "#2..3500ms", want: []int64{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, path := newLog(t, nil)
			require.NoError(t, c.SetRecording(true))
			require.NoError(t, c.SetRecordingIntervals(tt.intervals))
			comp := &stubComponent{id: 1, path: "net.a"}
			for n := int64(1); n <= 5; n++ {
				c.EventExecuted(sim.Event{Number: n, Time: sim.Time(n) * sim.TicksPerSecond, Component: comp})
			}
			require.NoError(t, c.Close())

			records, err := ReadFile(path)
			require.NoError(t, err)
			var got []int64
			for _, r := range records {
				if r.Kind == KindEvent {
					got = append(got, r.Event)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestController_ClearRecordingIntervals(t *testing.T) {
	c := New(Options{})
	require.NoError(t, c.SetRecordingIntervals("1s..2s"))
	assert.True(t, c.HasRecordingIntervals())
	assert.Equal(t, "1s..2s", c.Intervals()[0].String())

	c.ClearRecordingIntervals()
	assert.False(t, c.HasRecordingIntervals())
}

func TestParseIntervals_Rejects(t *testing.T) {
	tests := []string{"5s", "#x..", "3s..1s", "#9..#2", "-1s..", "1kg.."}
	for _, list := range tests {
		t.Run(list, func(t *testing.T) {
			c := New(Options{})
			err := c.SetRecordingIntervals(list)
			var ce *config.Error
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, "eventlog-recording-intervals", ce.Option)
			assert.False(t, c.HasRecordingIntervals())
		})
	}
}

func TestController_ModuleRecordingSwitch(t *testing.T) {
	// GIVEN sources excluded from the event log
	store := config.NewStore("")
	store.Set("**.source.module-eventlog-recording", "false")
	c, path := newLog(t, store)
	src := &stubComponent{id: 1, path: "net.source"}
	sink := &stubComponent{id: 2, path: "net.sink"}
	require.NoError(t, c.SetRecording(true))

	// WHEN both components are active
	c.ComponentCreated(src)
	c.ComponentCreated(sink)
	c.EventExecuted(sim.Event{Number: 1, Time: 1, Component: src})
	c.MessageSent(sim.Message{ID: 1, SrcID: 1, DstID: 2})
	c.EventExecuted(sim.Event{Number: 2, Time: 2, Component: sink})
	require.NoError(t, c.Close())

	// THEN only the sink's records appear
	records, err := ReadFile(path)
	require.NoError(t, err)
	for _, r := range records[1:] {
		assert.Equal(t, "net.sink", r.Component, "record %s", r.Kind)
	}
	assert.Equal(t, 2, len(records)-1)
}

func TestController_OpenFailureLeavesNoFile(t *testing.T) {
	// GIVEN a file name whose parent is a regular file
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	c := New(Options{File: filepath.Join(blocker, "run.elog")})

	// WHEN recording is enabled
	err := c.SetRecording(true)

	// THEN it fails and the controller stays closed
	require.Error(t, err)
	assert.False(t, c.IsRecording())
	assert.NoError(t, c.Close())
}

func TestController_OpenFailureOnDirectoryTarget(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{File: dir})
	require.Error(t, c.SetRecording(true))
	assert.False(t, c.IsRecording())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "existing directory is left alone")
}

func TestController_CloseOnce(t *testing.T) {
	c, _ := newLog(t, nil)
	require.NoError(t, c.SetRecording(true))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.SetRecording(true), ErrClosed)
}

func TestController_CloseWithoutSession(t *testing.T) {
	c := New(Options{})
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.TotalRecords)
	assert.Empty(t, s.ByKind)
	assert.Equal(t, 0, s.Components)
}

func TestSummarize_Counts(t *testing.T) {
	records := []Record{
		{Kind: KindHeader},
		{Kind: KindComponentCreated, Component: "net.a"},
		{Kind: KindEvent, T: 10, Event: 4, Component: "net.a"},
		{Kind: KindMessageScheduled, T: 10, Event: 4, Component: "net.a"},
		{Kind: KindEvent, T: 30, Event: 6, Component: "net.b"},
		{Kind: KindLogLine, T: 30, Event: 6, Component: "net.b", Text: "x"},
	}
	s := Summarize(records)
	assert.Equal(t, 6, s.TotalRecords)
	assert.Equal(t, 2, s.Events)
	assert.Equal(t, int64(4), s.FirstEvent)
	assert.Equal(t, int64(6), s.LastEvent)
	assert.Equal(t, int64(30), s.LastTime)
	assert.Equal(t, 2, s.Components)
	assert.Equal(t, 1, s.LogLines)
	assert.Equal(t, 1, s.Messages)
}
