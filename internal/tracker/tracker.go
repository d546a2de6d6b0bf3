// Package tracker submits generation jobs to the queue backend, watches them
// until they reach a terminal state and fans results out to subscribers.
//
// All job state is owned by a single goroutine (Run). Public methods, the poll
// timer and the event stream talk to it through channels only.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/assetstore"
	"github.com/makeasinger/studio/internal/model"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultHistorySize  = 20
	tombstoneTTL        = 10 * time.Minute
	remoteCancelTimeout = 10 * time.Second
)

var ErrStopped = errors.New("tracker stopped")

// Backend is the external generation queue.
type Backend interface {
	SubmitJob(ctx context.Context, req model.SubmitRequest) (string, error)
	Poll(ctx context.Context, jobID string) (model.JobUpdate, error)
	// Cancel returns model.ErrJobNotFound when the backend no longer knows the job.
	Cancel(ctx context.Context, jobID string) error
}

// Stream is the optional push fast path for job updates.
type Stream interface {
	Updates(ctx context.Context) (<-chan model.JobUpdate, error)
}

// Sink receives UI-facing notifications.
type Sink interface {
	Publish(n model.Notification)
}

// Event is delivered to subscribers once per terminal transition.
type Event struct {
	Job   model.GenerationJob
	Asset *model.Asset
	Err   error
}

// Slot parses the job's opaque context token.
func (e Event) Slot() (model.SlotRef, error) {
	return model.ParseSlot(e.Job.Context)
}

type Subscriber func(Event)

// Snapshot is a point-in-time copy of tracker state.
type Snapshot struct {
	Active []model.GenerationJob `json:"active"`
	Recent []model.GenerationJob `json:"recent"`
}

type Options struct {
	PollInterval time.Duration
	HistorySize  int
	Now          func() time.Time
}

type Tracker struct {
	backend Backend
	stream  Stream
	store   *assetstore.Store
	sink    Sink
	log     zerolog.Logger

	interval    time.Duration
	historySize int
	now         func() time.Time

	ops      chan func(*state)
	updates  chan model.JobUpdate
	dispatch chan delivery
	done     chan struct{}

	// Subscriptions may be registered before Run starts.
	subMu     sync.Mutex
	completed []subscription
	failed    []subscription
	nextSub   int
}

type entry struct {
	job        *model.GenerationJob
	prompt     string
	model      string
	provenance model.Provenance
}

type subscription struct {
	id int
	fn Subscriber
}

type state struct {
	active     map[string]*entry
	tombstones map[string]time.Time
	recent     []*model.GenerationJob
	polling    bool
	outbox     []delivery
}

type delivery struct {
	event        *Event
	subscribers  []Subscriber
	notification *model.Notification
}

func New(backend Backend, stream Stream, store *assetstore.Store, sink Sink, log zerolog.Logger, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		backend:     backend,
		stream:      stream,
		store:       store,
		sink:        sink,
		log:         log.With().Str("component", "tracker").Logger(),
		interval:    opts.PollInterval,
		historySize: opts.HistorySize,
		now:         opts.Now,
		ops:         make(chan func(*state)),
		updates:     make(chan model.JobUpdate, 64),
		dispatch:    make(chan delivery),
		done:        make(chan struct{}),
	}
}

// Run owns tracker state until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)

	st := &state{
		active:     make(map[string]*entry),
		tombstones: make(map[string]time.Time),
	}

	go t.dispatchLoop(ctx)
	if t.stream != nil {
		go t.forwardStream(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		var out chan delivery
		var next delivery
		if len(st.outbox) > 0 {
			out = t.dispatch
			next = st.outbox[0]
		}

		select {
		case <-ctx.Done():
			return nil
		case op := <-t.ops:
			op(st)
		case u := <-t.updates:
			t.apply(st, u)
		case <-ticker.C:
			t.tick(ctx, st)
		case out <- next:
			st.outbox[0] = delivery{}
			st.outbox = st.outbox[1:]
		}
	}
}

// do runs fn on the owning goroutine and waits for it.
func (t *Tracker) do(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})
	op := func(st *state) {
		fn(st)
		close(finished)
	}
	select {
	case t.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-t.done:
		return ErrStopped
	}
}

// Submit enqueues a generation request with the backend and starts tracking it.
func (t *Tracker) Submit(ctx context.Context, req model.SubmitRequest) (string, error) {
	jobID, err := t.backend.SubmitJob(ctx, req)
	if err != nil {
		t.log.Error().Err(err).Str("owner_id", req.OwnerID).Str("job_type", string(req.JobType)).Msg("submission rejected")
		return "", &model.SubmissionError{Err: err}
	}

	job := &model.GenerationJob{
		ID:        jobID,
		OwnerID:   req.OwnerID,
		JobType:   req.JobType,
		Context:   req.Context,
		Status:    model.JobStatusQueued,
		CreatedAt: t.now(),
	}
	provenance := req.Provenance
	provenance.OwnerID = req.OwnerID
	err = t.do(ctx, func(st *state) {
		if _, dead := st.tombstones[jobID]; dead {
			return
		}
		st.active[jobID] = &entry{
			job:        job,
			prompt:     req.Prompt,
			model:      req.Config.Model,
			provenance: provenance,
		}
	})
	if err != nil {
		return "", err
	}

	t.log.Info().Str("job_id", jobID).Str("context", req.Context).Msg("job submitted")
	return jobID, nil
}

// Cancel optimistically marks a job cancelled and asks the backend to drop it.
// It does not wait for the backend.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	var cancelled bool
	err := t.do(ctx, func(st *state) {
		cancelled = t.cancelLocked(st, jobID)
	})
	if err != nil {
		return err
	}
	if !cancelled {
		t.log.Debug().Str("job_id", jobID).Msg("cancel for inactive job")
	}
	t.cancelRemote(jobID)
	return nil
}

// CancelAll cancels every active job of ownerID and returns how many were cancelled.
func (t *Tracker) CancelAll(ctx context.Context, ownerID string) (int, error) {
	var ids []string
	err := t.do(ctx, func(st *state) {
		for id, e := range st.active {
			if e.job.OwnerID == ownerID {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			t.cancelLocked(st, id)
		}
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		t.cancelRemote(id)
	}
	t.log.Info().Str("owner_id", ownerID).Int("count", len(ids)).Msg("cancelled all jobs")
	return len(ids), nil
}

// SubscribeCompleted registers fn for completed jobs. The returned func unsubscribes.
func (t *Tracker) SubscribeCompleted(fn Subscriber) func() {
	return t.subscribe(fn, true)
}

// SubscribeFailed registers fn for failed jobs. The returned func unsubscribes.
func (t *Tracker) SubscribeFailed(fn Subscriber) func() {
	return t.subscribe(fn, false)
}

func (t *Tracker) subscribe(fn Subscriber, completed bool) func() {
	t.subMu.Lock()
	t.nextSub++
	id := t.nextSub
	sub := subscription{id: id, fn: fn}
	if completed {
		t.completed = append(t.completed, sub)
	} else {
		t.failed = append(t.failed, sub)
	}
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		t.completed = removeSub(t.completed, id)
		t.failed = removeSub(t.failed, id)
		t.subMu.Unlock()
	}
}

func removeSub(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// subscribers copies the current listeners for one terminal transition.
func (t *Tracker) subscribers(completed bool) []Subscriber {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	subs := t.failed
	if completed {
		subs = t.completed
	}
	out := make([]Subscriber, len(subs))
	for i, s := range subs {
		out[i] = s.fn
	}
	return out
}

// Snapshot returns active jobs and recent history for ownerID (all owners when empty).
// Recent jobs are newest first.
func (t *Tracker) Snapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	var snap Snapshot
	err := t.do(ctx, func(st *state) {
		for _, e := range st.active {
			if ownerID == "" || e.job.OwnerID == ownerID {
				snap.Active = append(snap.Active, *e.job.Clone())
			}
		}
		for i := len(st.recent) - 1; i >= 0; i-- {
			j := st.recent[i]
			if ownerID == "" || j.OwnerID == ownerID {
				snap.Recent = append(snap.Recent, *j.Clone())
			}
		}
	})
	return snap, err
}

func (t *Tracker) cancelLocked(st *state, jobID string) bool {
	st.tombstones[jobID] = t.now()
	e, ok := st.active[jobID]
	if !ok {
		return false
	}
	now := t.now()
	e.job.Status = model.JobStatusCancelled
	e.job.CompletedAt = &now
	delete(st.active, jobID)
	t.remember(st, e.job)
	return true
}

func (t *Tracker) cancelRemote(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), remoteCancelTimeout)
		defer cancel()
		err := t.backend.Cancel(ctx, jobID)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrJobNotFound):
			t.log.Debug().Str("job_id", jobID).Msg("backend no longer knows cancelled job")
		default:
			t.log.Warn().Err(err).Str("job_id", jobID).Msg("backend cancel failed")
		}
	}()
}

func (t *Tracker) remember(st *state, job *model.GenerationJob) {
	st.recent = append(st.recent, job)
	if over := len(st.recent) - t.historySize; over > 0 {
		st.recent = append([]*model.GenerationJob(nil), st.recent[over:]...)
	}
}

// apply folds one observation into state. Observations for jobs that are not
// active (unknown, already terminal, or tombstoned) are dropped, which is what
// makes terminal delivery idempotent across poll and stream.
func (t *Tracker) apply(st *state, u model.JobUpdate) {
	e, ok := st.active[u.JobID]
	if !ok {
		return
	}
	if _, dead := st.tombstones[u.JobID]; dead {
		return
	}
	job := e.job
	if !job.Status.CanTransition(u.Status) {
		return
	}

	if !u.Status.IsTerminal() {
		progress := max(job.Progress, min(u.Progress, 100))
		if progress == job.Progress && u.Status == job.Status {
			return
		}
		job.Status = u.Status
		job.Progress = progress
		st.outbox = append(st.outbox, delivery{notification: &model.Notification{
			Type:     model.NotifyJobProgress,
			OwnerID:  job.OwnerID,
			JobID:    job.ID,
			Context:  job.Context,
			Progress: progress,
			At:       t.now(),
		}})
		return
	}

	now := t.now()
	job.CompletedAt = &now
	delete(st.active, job.ID)

	switch u.Status {
	case model.JobStatusCompleted:
		if u.ResultURL == "" {
			t.fail(st, job, "completed without a result")
			break
		}
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.ResultURL = u.ResultURL

		asset := model.NewAsset(job.ID, u.ResultURL, e.prompt, e.model, model.MediaTypeFor(job.JobType), e.provenance, now)
		asset.JobID = job.ID
		stored, err := t.store.Add(asset)
		if err != nil {
			t.log.Warn().Err(err).Str("job_id", job.ID).Msg("asset not stored")
			stored = asset
		}

		st.outbox = append(st.outbox, delivery{
			event:       &Event{Job: *job.Clone(), Asset: &stored},
			subscribers: t.subscribers(true),
			notification: &model.Notification{
				Type:     model.NotifyJobCompleted,
				OwnerID:  job.OwnerID,
				JobID:    job.ID,
				Context:  job.Context,
				Progress: 100,
				Asset:    &stored,
				At:       now,
			},
		})
		t.log.Info().Str("job_id", job.ID).Str("asset_id", stored.ID).Msg("job completed")

	case model.JobStatusFailed:
		t.fail(st, job, u.ErrorMessage)

	case model.JobStatusCancelled:
		t.cancelledRemotely(st, job)
	}

	t.remember(st, job)
}

// cancelledRemotely handles a cancel that did not go through Cancel, such as
// one issued by another instance. Failed subscribers are told so they can
// release whatever they hold for the job's context.
func (t *Tracker) cancelledRemotely(st *state, job *model.GenerationJob) {
	job.Status = model.JobStatusCancelled
	job.ErrorMessage = "cancelled by backend"

	st.outbox = append(st.outbox, delivery{
		event:       &Event{Job: *job.Clone(), Err: &model.JobFailedError{JobID: job.ID, Message: job.ErrorMessage}},
		subscribers: t.subscribers(false),
		notification: &model.Notification{
			Type:    model.NotifyJobCancelled,
			OwnerID: job.OwnerID,
			JobID:   job.ID,
			Context: job.Context,
			Message: job.ErrorMessage,
			At:      t.now(),
		},
	})
	t.log.Info().Str("job_id", job.ID).Msg("job cancelled by backend")
}

func (t *Tracker) fail(st *state, job *model.GenerationJob, message string) {
	if message == "" {
		message = "generation failed"
	}
	job.Status = model.JobStatusFailed
	job.ErrorMessage = message

	st.outbox = append(st.outbox, delivery{
		event:       &Event{Job: *job.Clone(), Err: &model.JobFailedError{JobID: job.ID, Message: message}},
		subscribers: t.subscribers(false),
		notification: &model.Notification{
			Type:    model.NotifyJobFailed,
			OwnerID: job.OwnerID,
			JobID:   job.ID,
			Context: job.Context,
			Message: message,
			At:      t.now(),
		},
	})
	t.log.Warn().Str("job_id", job.ID).Str("error", message).Msg("job failed")
}

func (t *Tracker) tick(ctx context.Context, st *state) {
	cutoff := t.now().Add(-tombstoneTTL)
	for id, at := range st.tombstones {
		if at.Before(cutoff) {
			delete(st.tombstones, id)
		}
	}

	if st.polling || len(st.active) == 0 {
		return
	}
	ids := make([]string, 0, len(st.active))
	for id := range st.active {
		ids = append(ids, id)
	}
	st.polling = true
	go t.pollOnce(ctx, ids)
}

func (t *Tracker) pollOnce(ctx context.Context, ids []string) {
	defer func() {
		select {
		case t.ops <- func(st *state) { st.polling = false }:
		case <-ctx.Done():
		}
	}()

	for _, id := range ids {
		u, err := t.backend.Poll(ctx, id)
		if errors.Is(err, model.ErrJobNotFound) {
			u = model.JobUpdate{JobID: id, Status: model.JobStatusFailed, ErrorMessage: "job no longer known to backend"}
		} else if err != nil {
			if ctx.Err() != nil {
				return
			}
			perr := &model.PollError{JobID: id, Err: err}
			t.log.Warn().Err(perr).Msg("poll failed, retrying next tick")
			continue
		}
		if u.JobID == "" {
			u.JobID = id
		}
		select {
		case t.updates <- u:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) forwardStream(ctx context.Context) {
	ch, err := t.stream.Updates(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("event stream unavailable, relying on polling")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				t.log.Warn().Msg("event stream closed, relying on polling")
				return
			}
			select {
			case t.updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Tracker) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-t.dispatch:
			if d.event != nil {
				for _, fn := range d.subscribers {
					t.deliver(fn, *d.event)
				}
			}
			if d.notification != nil && t.sink != nil {
				t.sink.Publish(*d.notification)
			}
		}
	}
}

func (t *Tracker) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Str("job_id", ev.Job.ID).Str("panic", fmt.Sprint(r)).Msg("subscriber panicked")
		}
	}()
	fn(ev)
}
