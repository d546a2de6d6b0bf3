package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/model"
)

type fakeBackend struct {
	mu        sync.Mutex
	next      int
	jobs      map[string]model.JobUpdate
	pollErrs  map[string]int
	cancelled []string
	submitErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{jobs: map[string]model.JobUpdate{}, pollErrs: map[string]int{}}
}

func (b *fakeBackend) SubmitJob(_ context.Context, req model.SubmitRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.next++
	id := fmt.Sprintf("job-%d", b.next)
	b.jobs[id] = model.JobUpdate{JobID: id, OwnerID: req.OwnerID, Status: model.JobStatusQueued}
	return id, nil
}

func (b *fakeBackend) Poll(_ context.Context, id string) (model.JobUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := b.pollErrs[id]; n > 0 {
		b.pollErrs[id] = n - 1
		return model.JobUpdate{}, errors.New("redis: connection refused")
	}
	u, ok := b.jobs[id]
	if !ok {
		return model.JobUpdate{}, model.ErrJobNotFound
	}
	return u, nil
}

func (b *fakeBackend) Cancel(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, id)
	u, ok := b.jobs[id]
	if !ok || u.Status.IsTerminal() {
		return model.ErrJobNotFound
	}
	return nil
}

func (b *fakeBackend) set(id string, status model.JobStatus, progress int, url, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[id] = model.JobUpdate{JobID: id, Status: status, Progress: progress, ResultURL: url, ErrorMessage: msg}
}

func (b *fakeBackend) cancelCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

type chanStream struct{ ch chan model.JobUpdate }

func (s chanStream) Updates(context.Context) (<-chan model.JobUpdate, error) { return s.ch, nil }

type recordingSink struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (s *recordingSink) Publish(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
}

func (s *recordingSink) count(typ model.NotificationType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, note := range s.notes {
		if note.Type == typ {
			n++
		}
	}
	return n
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) get(i int) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}

func startTracker(t *testing.T, b Backend, stream Stream, opts Options) (*Tracker, *assetstore.Store, *recordingSink) {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	store := assetstore.New()
	sink := &recordingSink{}
	tr := New(b, stream, store, sink, zerolog.Nop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr, store, sink
}

func submitPost(t *testing.T, tr *Tracker, owner, slot, itemID string) string {
	t.Helper()
	id, err := tr.Submit(context.Background(), model.SubmitRequest{
		OwnerID: owner,
		JobType: model.JobTypePost,
		Prompt:  "sunset over the harbor",
		Config:  model.GenerationConfig{Model: "flux"},
		Context: slot,
		Provenance: model.Provenance{
			Kind:       model.ContentKindPost,
			ItemID:     itemID,
			CampaignID: "camp-1",
		},
	})
	require.NoError(t, err)
	return id
}

func TestTracker_CompletedJobCreatesAssetOnce(t *testing.T) {
	b := newFakeBackend()
	tr, store, sink := startTracker(t, b, nil, Options{})

	var got eventLog
	tr.SubscribeCompleted(got.record)

	id := submitPost(t, tr, "u1", "post-2", "post-a")
	b.set(id, model.JobStatusProcessing, 40, "", "")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/x.png", "")

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, got.len())

	ev := got.get(0)
	assert.Equal(t, id, ev.Job.ID)
	assert.Equal(t, model.JobStatusCompleted, ev.Job.Status)
	require.NotNil(t, ev.Asset)
	assert.Equal(t, "https://cdn/x.png", ev.Asset.Src)
	assert.Equal(t, "post-a", ev.Asset.PostID)
	assert.Equal(t, "camp-1", ev.Asset.CampaignID)
	assert.Equal(t, "u1", ev.Asset.OwnerID)
	assert.Equal(t, "u1", ev.Job.OwnerID)

	slot, err := ev.Slot()
	require.NoError(t, err)
	assert.Equal(t, 2, slot.Index)

	assert.Equal(t, 1, store.Len())
	stored, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, "sunset over the harbor", stored.Prompt)
	assert.Equal(t, 1, sink.count(model.NotifyJobCompleted))
}

func TestTracker_StreamAndPollDeliverOnce(t *testing.T) {
	b := newFakeBackend()
	stream := chanStream{ch: make(chan model.JobUpdate, 4)}
	tr, store, _ := startTracker(t, b, stream, Options{})

	var got eventLog
	tr.SubscribeCompleted(got.record)

	id := submitPost(t, tr, "u1", "post-0", "p0")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/y.png", "")
	stream.ch <- model.JobUpdate{JobID: id, Status: model.JobStatusCompleted, Progress: 100, ResultURL: "https://cdn/y.png"}
	stream.ch <- model.JobUpdate{JobID: id, Status: model.JobStatusCompleted, Progress: 100, ResultURL: "https://cdn/y.png"}

	require.Eventually(t, func() bool { return got.len() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, got.len())
	assert.Equal(t, 1, store.Len())
}

func TestTracker_EverySubscriberReceivesEvent(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{})

	var first, second eventLog
	tr.SubscribeCompleted(first.record)
	tr.SubscribeCompleted(second.record)

	id := submitPost(t, tr, "u1", "post-1", "p1")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/z.png", "")

	require.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_UnsubscribeStopsDelivery(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{})

	var kept, dropped eventLog
	tr.SubscribeCompleted(kept.record)
	unsubscribe := tr.SubscribeCompleted(dropped.record)
	unsubscribe()

	id := submitPost(t, tr, "u1", "post-1", "p1")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/z.png", "")

	require.Eventually(t, func() bool { return kept.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, dropped.len())
}

func TestTracker_FailedJob(t *testing.T) {
	b := newFakeBackend()
	tr, store, sink := startTracker(t, b, nil, Options{})

	var completed, failed eventLog
	tr.SubscribeCompleted(completed.record)
	tr.SubscribeFailed(failed.record)

	id := submitPost(t, tr, "u1", "post-1", "p1")
	b.set(id, model.JobStatusFailed, 30, "", "provider timeout")

	require.Eventually(t, func() bool { return failed.len() == 1 }, time.Second, 5*time.Millisecond)
	ev := failed.get(0)
	var jf *model.JobFailedError
	require.True(t, errors.As(ev.Err, &jf))
	assert.Equal(t, "provider timeout", jf.Message)
	assert.Equal(t, 0, completed.len())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, sink.count(model.NotifyJobFailed))
}

func TestTracker_SubmitError(t *testing.T) {
	b := newFakeBackend()
	b.submitErr = errors.New("queue full")
	tr, _, _ := startTracker(t, b, nil, Options{})

	_, err := tr.Submit(context.Background(), model.SubmitRequest{OwnerID: "u1", JobType: model.JobTypeFlyer})
	var se *model.SubmissionError
	require.True(t, errors.As(err, &se))

	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
}

func TestTracker_CancelIgnoresLateCompletion(t *testing.T) {
	b := newFakeBackend()
	tr, store, _ := startTracker(t, b, nil, Options{PollInterval: time.Hour})

	var got eventLog
	tr.SubscribeCompleted(got.record)

	id := submitPost(t, tr, "u1", "post-0", "p0")
	require.NoError(t, tr.Cancel(context.Background(), id))

	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, model.JobStatusCancelled, snap.Recent[0].Status)

	// completion lands after the local cancel
	tr.updates <- model.JobUpdate{JobID: id, Status: model.JobStatusCompleted, ResultURL: "https://cdn/late.png"}

	require.Eventually(t, func() bool { return len(b.cancelCalls()) == 1 }, time.Second, 5*time.Millisecond)
	_, err = tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.len())
	assert.Equal(t, 0, store.Len())
}

func TestTracker_CancelUnknownJobStillSucceeds(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{})

	require.NoError(t, tr.Cancel(context.Background(), "job-404"))
	require.Eventually(t, func() bool { return len(b.cancelCalls()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_CancelAll(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{PollInterval: 20 * time.Millisecond})

	a := submitPost(t, tr, "u1", "post-0", "p0")
	bID := submitPost(t, tr, "u1", "post-1", "p1")
	other := submitPost(t, tr, "u2", "post-0", "q0")
	b.set(a, model.JobStatusProcessing, 50, "", "")

	n, err := tr.CancelAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
	for _, j := range snap.Recent {
		assert.Equal(t, model.JobStatusCancelled, j.Status)
	}

	all, err := tr.Snapshot(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all.Active, 1)
	assert.Equal(t, other, all.Active[0].ID)

	require.Eventually(t, func() bool { return len(b.cancelCalls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{a, bID}, b.cancelCalls())
}

func TestTracker_RecentHistoryBounded(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{HistorySize: 3, PollInterval: time.Hour})

	var ids []string
	for i := 0; i < 5; i++ {
		id := submitPost(t, tr, "u1", fmt.Sprintf("post-%d", i), fmt.Sprintf("p%d", i))
		ids = append(ids, id)
		require.NoError(t, tr.Cancel(context.Background(), id))
	}

	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Recent, 3)
	assert.Equal(t, ids[4], snap.Recent[0].ID)
	assert.Equal(t, ids[2], snap.Recent[2].ID)
}

func TestTracker_PollErrorRetried(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{})

	var got eventLog
	tr.SubscribeCompleted(got.record)

	id := submitPost(t, tr, "u1", "post-0", "p0")
	b.mu.Lock()
	b.pollErrs[id] = 3
	b.mu.Unlock()
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/ok.png", "")

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	b := newFakeBackend()
	tr, _, sink := startTracker(t, b, nil, Options{PollInterval: time.Hour})

	id := submitPost(t, tr, "u1", "post-0", "p0")
	tr.updates <- model.JobUpdate{JobID: id, Status: model.JobStatusProcessing, Progress: 60}
	tr.updates <- model.JobUpdate{JobID: id, Status: model.JobStatusProcessing, Progress: 20}
	tr.updates <- model.JobUpdate{JobID: id, Status: model.JobStatusQueued, Progress: 0}

	require.Eventually(t, func() bool { return sink.count(model.NotifyJobProgress) == 1 }, time.Second, 5*time.Millisecond)
	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Active, 1)
	assert.Equal(t, model.JobStatusProcessing, snap.Active[0].Status)
	assert.Equal(t, 60, snap.Active[0].Progress)
}

func TestTracker_SubscriberPanicDoesNotStopDelivery(t *testing.T) {
	b := newFakeBackend()
	tr, _, _ := startTracker(t, b, nil, Options{})

	var got eventLog
	tr.SubscribeCompleted(func(Event) { panic("boom") })
	tr.SubscribeCompleted(got.record)

	id := submitPost(t, tr, "u1", "post-0", "p0")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/ok.png", "")

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_SubscribeBeforeRun(t *testing.T) {
	b := newFakeBackend()
	tr := New(b, nil, assetstore.New(), nil, zerolog.Nop(), Options{PollInterval: 10 * time.Millisecond})

	var completed, failed eventLog
	registered := make(chan struct{})
	go func() {
		tr.SubscribeFailed(failed.record)
		tr.SubscribeCompleted(completed.record)
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("subscribing blocked until Run started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	id := submitPost(t, tr, "u1", "post-0", "p0")
	b.set(id, model.JobStatusCompleted, 100, "https://cdn/early.png", "")

	require.Eventually(t, func() bool { return completed.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, failed.len())
}

func TestTracker_BackendCancelReachesFailedSubscribers(t *testing.T) {
	b := newFakeBackend()
	tr, store, sink := startTracker(t, b, nil, Options{})

	var completed, failed eventLog
	tr.SubscribeCompleted(completed.record)
	tr.SubscribeFailed(failed.record)

	id := submitPost(t, tr, "u1", "post-4", "p4")
	b.set(id, model.JobStatusCancelled, 0, "", "")

	require.Eventually(t, func() bool { return failed.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, failed.len())
	assert.Equal(t, 0, completed.len())

	ev := failed.get(0)
	assert.Equal(t, model.JobStatusCancelled, ev.Job.Status)
	assert.Equal(t, "post-4", ev.Job.Context)
	var jf *model.JobFailedError
	assert.ErrorAs(t, ev.Err, &jf)

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, sink.count(model.NotifyJobCancelled))

	snap, err := tr.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, model.JobStatusCancelled, snap.Recent[0].Status)
}
