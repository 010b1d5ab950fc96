package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-keepintouch/internal/calendar"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"github.com/tartampluch/go-keepintouch/internal/store/memory"
	"github.com/tartampluch/go-keepintouch/internal/worker"
)

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type MockClock struct {
	CurrentTime time.Time
}

func (m MockClock) Now() time.Time {
	return m.CurrentTime
}

// MockReminders lets tests script reconciler results.
type MockReminders struct {
	mock.Mock
}

func (m *MockReminders) GenerateUpcomingReminders(ctx context.Context) (engine.GenerateResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(engine.GenerateResult), args.Error(1)
}

func (m *MockReminders) Agenda(ctx context.Context, withinDays int) ([]engine.ContactReminder, error) {
	args := m.Called(ctx, withinDays)
	items, _ := args.Get(0).([]engine.ContactReminder)
	return items, args.Error(1)
}

func newWorker(t *testing.T, rem worker.Reminders) (*worker.Worker, chan []byte) {
	t.Helper()
	published := make(chan []byte, 16)
	w := worker.New(rem, calendar.Builder{}, func(b []byte) {
		select {
		case published <- b:
		default:
		}
	})
	w.Clock = MockClock{CurrentTime: start}
	return w, published
}

func TestSweep_GeneratesAndPublishes(t *testing.T) {
	store := memory.New()
	_, err := store.SaveContact(context.Background(), engine.Contact{
		ID: "ada", Name: "Ada", CommunicationFrequency: engine.FrequencyWeekly,
	})
	require.NoError(t, err)
	rec := &engine.Reconciler{Store: store, Clock: MockClock{CurrentTime: start}}

	w, published := newWorker(t, rec)
	require.NoError(t, w.Sweep(context.Background()))

	n, err := store.CountReminders(context.Background(), engine.ReminderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case data := <-published:
		assert.Contains(t, string(data), "CATEGORIES:communication")
	default:
		t.Fatal("nothing published")
	}
}

func TestSweep_GenerateFailureSkipsPublish(t *testing.T) {
	m := new(MockReminders)
	m.On("GenerateUpcomingReminders", mock.Anything).Return(engine.GenerateResult{}, errors.New("db down"))

	w, published := newWorker(t, m)
	assert.Error(t, w.Sweep(context.Background()))
	assert.Empty(t, published)
	m.AssertNotCalled(t, "Agenda", mock.Anything, mock.Anything)
}

func TestRebuild_UsesConfiguredWindow(t *testing.T) {
	m := new(MockReminders)
	m.On("Agenda", mock.Anything, 30).Return(nil, nil)

	w, published := newWorker(t, m)
	w.Days = 30
	require.NoError(t, w.Rebuild(context.Background()))
	assert.Len(t, published, 1)
	m.AssertExpectations(t)
}

func TestRun_InitialSweepTriggerAndStop(t *testing.T) {
	m := new(MockReminders)
	m.On("GenerateUpcomingReminders", mock.Anything).Return(engine.GenerateResult{}, nil).Once()
	m.On("Agenda", mock.Anything, mock.Anything).Return(nil, nil)

	w, published := newWorker(t, m)
	w.Interval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Initial sweep.
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not publish")
	}

	// A trigger rebuilds without a new sweep.
	w.Trigger()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not publish")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	m.AssertNumberOfCalls(t, "GenerateUpcomingReminders", 1)
}

func TestRun_Ticks(t *testing.T) {
	m := new(MockReminders)
	m.On("GenerateUpcomingReminders", mock.Anything).Return(engine.GenerateResult{}, nil)
	m.On("Agenda", mock.Anything, mock.Anything).Return(nil, nil)

	w, published := newWorker(t, m)
	w.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(published) >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_DoesNotBlock(t *testing.T) {
	w, _ := newWorker(t, new(MockReminders))
	for range 10 {
		w.Trigger()
	}
}
