package alerter

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLoader struct {
	mu      sync.Mutex
	batches map[string]*model.Batch
}

func (l *fakeLoader) Batch(_ context.Context, id string) (*model.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.batches[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return b, nil
}

func (l *fakeLoader) set(id string, b *model.Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches[id] = b
}

type recordingSink struct {
	name   string
	fail   bool
	mu     sync.Mutex
	writes []int
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, _ *model.Batch, alerts []model.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, len(alerts))
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func newTestAlerter(t *testing.T, loader BatchLoader, sources []string, sinks []model.AlertSink, n model.Notifier) *Alerter {
	t.Helper()
	a, err := NewAlerter(&config.AlerterConfig{Enabled: true, CheckInterval: "1h"}, loader, sources, sinks, n, 0, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestAlerter_CheckDispatchesOncePerBatch(t *testing.T) {
	batch := scored(record(0, "1.1.1.1", true, false), record(time.Second, "<b>2.2.2.2</b>", false, true))
	batch.SourceID = "a.csv"
	batch.ComputedAt = base
	loader := &fakeLoader{batches: map[string]*model.Batch{"a.csv": batch}}
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", fail: true}
	notifier := &recordingNotifier{}

	a := newTestAlerter(t, loader, []string{"a.csv", "missing.csv"}, []model.AlertSink{good, bad}, notifier)

	assert.Equal(t, 2, a.Check(context.Background()))
	assert.Equal(t, []int{2}, good.writes)
	assert.Equal(t, []int{2}, bad.writes)
	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "(2 Triggered)")
	assert.Contains(t, notifier.bodies[0], "a.csv")
	assert.Contains(t, notifier.bodies[0], "&lt;b&gt;2.2.2.2&lt;/b&gt;")

	// same batch again: nothing new
	assert.Zero(t, a.Check(context.Background()))
	assert.Len(t, good.writes, 1)
	assert.Len(t, notifier.subjects, 1)

	// recomputed batch is dispatched
	next := scored(record(0, "1.1.1.1", true, false))
	next.ComputedAt = base.Add(time.Minute)
	loader.set("a.csv", next)
	assert.Equal(t, 1, a.Check(context.Background()))
	assert.Equal(t, []int{2, 1}, good.writes)
	assert.Len(t, notifier.subjects, 2)
}

func TestAlerter_QuietBatchSendsNothing(t *testing.T) {
	loader := &fakeLoader{batches: map[string]*model.Batch{"a.csv": scored(record(0, "1.1.1.1", false, false))}}
	sink := &recordingSink{name: "s"}
	notifier := &recordingNotifier{}

	a := newTestAlerter(t, loader, []string{"a.csv"}, []model.AlertSink{sink}, notifier)
	assert.Zero(t, a.Check(context.Background()))
	assert.Equal(t, []int{0}, sink.writes, "sinks still see every new batch")
	assert.Empty(t, notifier.subjects)
}

func TestAlerter_StartStop(t *testing.T) {
	loader := &fakeLoader{batches: map[string]*model.Batch{"a.csv": scored(record(0, "1.1.1.1", true, false))}}
	sink := &recordingSink{name: "s"}
	a := newTestAlerter(t, loader, []string{"a.csv"}, []model.AlertSink{sink}, nil)

	go a.Start()
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.writes) == 1
	}, time.Second, 5*time.Millisecond)

	a.Stop()
	assert.True(t, sink.closed)
}

func TestNewAlerter_Invalid(t *testing.T) {
	loader := &fakeLoader{}
	_, err := NewAlerter(&config.AlerterConfig{CheckInterval: "soon"}, loader, []string{"a"}, nil, nil, 0, zap.NewNop())
	assert.Error(t, err)
	_, err = NewAlerter(&config.AlerterConfig{CheckInterval: "0s"}, loader, []string{"a"}, nil, nil, 0, zap.NewNop())
	assert.Error(t, err)
	_, err = NewAlerter(&config.AlerterConfig{CheckInterval: "1s"}, loader, nil, nil, nil, 0, zap.NewNop())
	assert.Error(t, err)
}
