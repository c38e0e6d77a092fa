package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/domain"
	"sourcekit/internal/infra/logger"
)

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingBus) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}
func (r *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (r *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (r *recordingBus) Close()                                                 {}

func (r *recordingBus) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func counting(count *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		count.Add(1)
		return nil
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil, logger.Discard())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewScheduler(nil, logger.Discard()).Stop())
}

func TestSchedulerActionFiresAndPublishes(t *testing.T) {
	var count atomic.Int32
	bus := &recordingBus{}
	s := NewScheduler(bus, logger.Discard())
	s.RegisterAction(ActionRefreshSources, counting(&count))
	require.NoError(t, s.AddTask(ScheduledTask{Name: "refresh", Schedule: "50ms", Action: ActionRefreshSources}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.GreaterOrEqual(t, count.Load(), int32(1))
	events := bus.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSchedulerTaskFired, events[0].Type)
	var payload domain.TaskEventPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "refresh", payload.Task)
	assert.Equal(t, string(ActionRefreshSources), payload.Action)
	assert.Empty(t, payload.Error)
}

func TestSchedulerActionErrorIsPublished(t *testing.T) {
	bus := &recordingBus{}
	s := NewScheduler(bus, logger.Discard())
	s.RegisterAction(ActionResetHeadless, func(context.Context) error { return errors.New("simulated") })
	require.NoError(t, s.AddTask(ScheduledTask{Name: "failing", Schedule: "50ms", Action: ActionResetHeadless}))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.Stop())

	events := bus.snapshot()
	require.NotEmpty(t, events)
	var payload domain.TaskEventPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "simulated", payload.Error)
}

func TestSchedulerAddTaskErrors(t *testing.T) {
	s := NewScheduler(nil, logger.Discard())
	s.RegisterAction(ActionRefreshSources, func(context.Context) error { return nil })

	err := s.AddTask(ScheduledTask{Name: "unknown", Schedule: "1h", Action: "does_not_exist"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = s.AddTask(ScheduledTask{Name: "bad", Schedule: "not-valid", Action: ActionRefreshSources})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, s.AddTask(ScheduledTask{Name: "dup", Schedule: "1h", Action: ActionRefreshSources}))
	err = s.AddTask(ScheduledTask{Name: "dup", Schedule: "2h", Action: ActionRefreshSources})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestSchedulerContextCancellation(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(nil, logger.Discard())
	s.RegisterAction(ActionRefreshSources, counting(&count))
	require.NoError(t, s.AddTask(ScheduledTask{Name: "ctx", Schedule: "50ms", Action: ActionRefreshSources}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, s.Stop())

	after := count.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "task continued after cancellation")
}

func TestSchedulerOneShot(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(nil, logger.Discard())
	s.RegisterAction(ActionResetHeadless, counting(&count))
	require.NoError(t, s.AddTask(ScheduledTask{Name: "once", Schedule: "50ms", Action: ActionResetHeadless, OneShot: true}))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.EqualValues(t, 1, count.Load())
	assert.Nil(t, s.NextRun("once"))
}

func TestSchedulerRemoveTask(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(nil, logger.Discard())
	s.RegisterAction(ActionRefreshSources, counting(&count))
	require.NoError(t, s.AddTask(ScheduledTask{Name: "removable", Schedule: "50ms", Action: ActionRefreshSources}))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.RemoveTask("removable"))
	after := count.Load()
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.LessOrEqual(t, count.Load(), after+1)
	assert.ErrorIs(t, s.RemoveTask("removable"), domain.ErrNotFound)
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(nil, logger.Discard())
	s.RegisterAction(ActionRefreshSources, func(context.Context) error { return nil })
	require.NoError(t, s.AddTask(ScheduledTask{Name: "hourly", Schedule: "@every 1h", Action: ActionRefreshSources}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	next := s.NextRun("hourly")
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))
	assert.Nil(t, s.NextRun("nope"))
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@every 30m", false},
		{"@daily", false},
		{"30m", false},
		{"100ms", false},
		{"not-a-schedule", true},
		{"", true},
		{"-5m", true},
		{"0s", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sched, err := parseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sched)
		})
	}
}

func TestConstantDelay(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.Add(250*time.Millisecond), constantDelay(250*time.Millisecond).Next(now))
}

type fakeUpdater struct {
	updated []string
	err     error
	calls   int
}

func (f *fakeUpdater) UpdateAll(context.Context) ([]string, error) {
	f.calls++
	return f.updated, f.err
}

type fakeCache struct{ calls int }

func (f *fakeCache) Refresh(context.Context) (int, error) {
	f.calls++
	return 3, nil
}

type fakeResetter struct{ resets atomic.Int32 }

func (f *fakeResetter) Reset() { f.resets.Add(1) }

func TestRefreshSources(t *testing.T) {
	updater := &fakeUpdater{updated: []string{"Ext"}}
	cache := &fakeCache{}
	require.NoError(t, RefreshSources(updater, cache, logger.Discard())(context.Background()))
	assert.Equal(t, 1, updater.calls)
	assert.Equal(t, 1, cache.calls)

	updater.err = domain.ErrTransport
	err := RefreshSources(updater, cache, logger.Discard())(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 1, cache.calls, "cache kept when updates fail")

	assert.NoError(t, RefreshSources(nil, nil, logger.Discard())(context.Background()))
}

func TestResetHeadless(t *testing.T) {
	r := &fakeResetter{}
	require.NoError(t, ResetHeadless(r)(context.Background()))
	assert.EqualValues(t, 1, r.resets.Load())
}
