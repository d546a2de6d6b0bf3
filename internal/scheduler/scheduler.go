// Package scheduler drives scheduled posts through their publication
// lifecycle: due detection on a timer and explicit single or bulk publishing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
)

const (
	defaultCheckInterval      = 60 * time.Second
	defaultDueWindow          = 15 * time.Minute
	defaultBulkDelay          = 2 * time.Second
	defaultStatusPollInterval = 3 * time.Second
	defaultStatusPollAttempts = 20

	errPublishInterrupted = "publish interrupted"
)

// ListFilter narrows Repository.List. Zero fields match everything.
type ListFilter struct {
	OwnerID string
	Status  model.PostStatus
}

// Repository persists scheduled posts. Get returns model.ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, p *model.ScheduledPost) error
	Get(ctx context.Context, id string) (*model.ScheduledPost, error)
	List(ctx context.Context, f ListFilter) ([]*model.ScheduledPost, error)
	Update(ctx context.Context, p *model.ScheduledPost) error
	Delete(ctx context.Context, id string) error
}

// Platform is the social network adapter.
type Platform interface {
	UploadMedia(ctx context.Context, req model.MediaRequest) (string, error)
	CheckStatus(ctx context.Context, containerID string) (model.ContainerStatus, error)
	Publish(ctx context.Context, containerID string) (string, error)
}

// Uploader turns inline data into a durable URL.
type Uploader interface {
	UploadBase64(ctx context.Context, data, mimeType string) (string, error)
}

type Sink interface {
	Publish(n model.Notification)
}

type Options struct {
	CheckInterval      time.Duration
	DueWindow          time.Duration
	BulkDelay          time.Duration
	StatusPollInterval time.Duration
	StatusPollAttempts int
	Now                func() time.Time
}

// CreateInput describes a new scheduled post.
type CreateInput struct {
	ContentID            string
	ImageURL             string
	CarouselImageURLs    []string
	Caption              string
	Hashtags             []string
	ScheduledDate        string
	ScheduledTime        string
	Timezone             string
	Platforms            model.Platform
	InstagramContentType model.InstagramContentType
}

// EditInput changes post content. Nil fields are left alone.
type EditInput struct {
	Caption              *string
	Hashtags             []string
	ImageURL             *string
	CarouselImageURLs    []string
	InstagramContentType *model.InstagramContentType
}

// DuePost is a scheduled post inside the due window.
type DuePost struct {
	Post    *model.ScheduledPost `json:"post"`
	Overdue bool                 `json:"overdue"`
}

type Scheduler struct {
	repo     Repository
	platform Platform
	uploader Uploader
	sink     Sink
	log      zerolog.Logger
	opts     Options

	mu       sync.Mutex
	active   map[string]struct{}
	states   map[string]model.InstagramPublishState
	notified map[string]int64
}

func New(repo Repository, platform Platform, uploader Uploader, sink Sink, log zerolog.Logger, opts Options) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.DueWindow <= 0 {
		opts.DueWindow = defaultDueWindow
	}
	if opts.BulkDelay < 0 {
		opts.BulkDelay = 0
	} else if opts.BulkDelay == 0 {
		opts.BulkDelay = defaultBulkDelay
	}
	if opts.StatusPollInterval <= 0 {
		opts.StatusPollInterval = defaultStatusPollInterval
	}
	if opts.StatusPollAttempts <= 0 {
		opts.StatusPollAttempts = defaultStatusPollAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		repo:     repo,
		platform: platform,
		uploader: uploader,
		sink:     sink,
		log:      log.With().Str("component", "scheduler").Logger(),
		opts:     opts,
		active:   make(map[string]struct{}),
		states:   make(map[string]model.InstagramPublishState),
		notified: make(map[string]int64),
	}
}

// Create validates and stores a new post in the scheduled state. Inline
// media is uploaded first so only durable URLs are persisted.
func (s *Scheduler) Create(ctx context.Context, ownerID string, in CreateInput) (*model.ScheduledPost, error) {
	ts, err := model.ComputeScheduledTimestamp(in.ScheduledDate, in.ScheduledTime, in.Timezone)
	if err != nil {
		return nil, err
	}
	if in.InstagramContentType == "" {
		in.InstagramContentType = model.InstagramPhoto
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}

	now := s.opts.Now()
	p := &model.ScheduledPost{
		ID:                   uuid.New().String(),
		OwnerID:              ownerID,
		ContentID:            in.ContentID,
		ImageURL:             in.ImageURL,
		CarouselImageURLs:    in.CarouselImageURLs,
		Caption:              in.Caption,
		Hashtags:             in.Hashtags,
		ScheduledDate:        in.ScheduledDate,
		ScheduledTime:        in.ScheduledTime,
		Timezone:             in.Timezone,
		ScheduledTimestamp:   ts,
		Platforms:            in.Platforms,
		Status:               model.PostStatusScheduled,
		InstagramContentType: in.InstagramContentType,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if len(p.MediaURLs()) == 0 {
		return nil, model.ErrNoMedia
	}
	if err := s.makeDurable(ctx, p); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create scheduled post: %w", err)
	}

	s.log.Info().Str("post_id", p.ID).Time("scheduled_at", p.ScheduledAt()).Msg("post scheduled")
	return p, nil
}

// Get returns ownerID's post.
func (s *Scheduler) Get(ctx context.Context, ownerID, id string) (*model.ScheduledPost, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, model.ErrNotFound
	}
	if p.Status == model.PostStatusPublishing && !s.isActive(p.ID) {
		s.interrupt(ctx, p)
	}
	return p, nil
}

func (s *Scheduler) List(ctx context.Context, ownerID string, status model.PostStatus) ([]*model.ScheduledPost, error) {
	return s.repo.List(ctx, ListFilter{OwnerID: ownerID, Status: status})
}

// Reschedule changes the wall-clock time of a scheduled post. Only the
// timestamp is recomputed; status is untouched.
func (s *Scheduler) Reschedule(ctx context.Context, ownerID, id, date, clock, timezone string) (*model.ScheduledPost, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PostStatusScheduled {
		return nil, fmt.Errorf("%w: cannot reschedule %s post", model.ErrInvalidTransition, p.Status)
	}
	if timezone == "" {
		timezone = p.Timezone
	}
	ts, err := model.ComputeScheduledTimestamp(date, clock, timezone)
	if err != nil {
		return nil, err
	}

	p.ScheduledDate = date
	p.ScheduledTime = clock
	p.Timezone = timezone
	p.ScheduledTimestamp = ts
	p.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("reschedule post: %w", err)
	}

	s.mu.Lock()
	delete(s.notified, p.ID)
	s.mu.Unlock()
	return p, nil
}

// Edit changes caption, hashtags or media. A failed post is put back into
// the scheduled state.
func (s *Scheduler) Edit(ctx context.Context, ownerID, id string, in EditInput) (*model.ScheduledPost, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PostStatusScheduled:
	case model.PostStatusFailed:
		p.Status = model.PostStatusScheduled
		p.ErrorMessage = ""
	default:
		return nil, fmt.Errorf("%w: cannot edit %s post", model.ErrInvalidTransition, p.Status)
	}

	if in.Caption != nil {
		p.Caption = *in.Caption
	}
	if in.Hashtags != nil {
		p.Hashtags = in.Hashtags
	}
	if in.ImageURL != nil {
		p.ImageURL = *in.ImageURL
	}
	if in.CarouselImageURLs != nil {
		p.CarouselImageURLs = in.CarouselImageURLs
	}
	if in.InstagramContentType != nil {
		p.InstagramContentType = *in.InstagramContentType
	}
	if len(p.MediaURLs()) == 0 {
		return nil, model.ErrNoMedia
	}
	if err := s.makeDurable(ctx, p); err != nil {
		return nil, err
	}

	p.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("edit post: %w", err)
	}
	return p, nil
}

// Cancel is only valid from scheduled.
func (s *Scheduler) Cancel(ctx context.Context, ownerID, id string) (*model.ScheduledPost, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PostStatusScheduled {
		return nil, fmt.Errorf("%w: cannot cancel %s post", model.ErrInvalidTransition, p.Status)
	}
	p.Status = model.PostStatusCancelled
	p.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("cancel post: %w", err)
	}
	s.log.Info().Str("post_id", p.ID).Msg("post cancelled")
	return p, nil
}

// Delete removes a post that is not currently publishing.
func (s *Scheduler) Delete(ctx context.Context, ownerID, id string) error {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if s.isActive(id) || p.Status == model.PostStatusPublishing {
		return model.ErrAlreadyPublishing
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	s.mu.Lock()
	delete(s.states, id)
	delete(s.notified, id)
	s.mu.Unlock()
	return nil
}

// Due returns ownerID's scheduled posts that fall inside the due window or
// are overdue, earliest first. It never changes status.
func (s *Scheduler) Due(ctx context.Context, ownerID string) ([]DuePost, error) {
	posts, err := s.repo.List(ctx, ListFilter{OwnerID: ownerID, Status: model.PostStatusScheduled})
	if err != nil {
		return nil, err
	}
	return s.due(posts), nil
}

func (s *Scheduler) due(posts []*model.ScheduledPost) []DuePost {
	now := s.opts.Now().UnixMilli()
	window := s.opts.DueWindow.Milliseconds()

	var out []DuePost
	for _, p := range posts {
		if p.Status != model.PostStatusScheduled {
			continue
		}
		if p.ScheduledTimestamp-now <= window {
			out = append(out, DuePost{Post: p, Overdue: p.ScheduledTimestamp < now})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Post.ScheduledTimestamp < out[j].Post.ScheduledTimestamp
	})
	return out
}

// PublishState returns the transient state of the latest publish attempt.
func (s *Scheduler) PublishState(ctx context.Context, ownerID, id string) (model.InstagramPublishState, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return model.InstagramPublishState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return model.InstagramPublishState{Step: model.StepIdle}, nil
	}
	return st, nil
}

// Run checks for due posts every CheckInterval and emits one post_due
// notification per post and scheduled time. It does not publish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	s.RecoverInterrupted(ctx)
	s.CheckDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.CheckDue(ctx)
		}
	}
}

// CheckDue runs one trigger evaluation across all owners.
func (s *Scheduler) CheckDue(ctx context.Context) {
	posts, err := s.repo.List(ctx, ListFilter{Status: model.PostStatusScheduled})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Msg("due check failed")
		}
		return
	}

	for _, d := range s.due(posts) {
		s.mu.Lock()
		seen, ok := s.notified[d.Post.ID]
		if ok && seen == d.Post.ScheduledTimestamp {
			s.mu.Unlock()
			continue
		}
		s.notified[d.Post.ID] = d.Post.ScheduledTimestamp
		s.mu.Unlock()

		s.notify(model.Notification{
			Type:    model.NotifyPostDue,
			OwnerID: d.Post.OwnerID,
			PostID:  d.Post.ID,
			Overdue: d.Overdue,
			Message: d.Post.Caption,
			At:      s.opts.Now(),
		})
		s.log.Debug().Str("post_id", d.Post.ID).Bool("overdue", d.Overdue).Msg("post due")
	}
}

// RecoverInterrupted fails every post left in publishing by an attempt that
// is no longer running, typically because the process stopped mid-publish.
// The user can then retry them.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) {
	posts, err := s.repo.List(ctx, ListFilter{Status: model.PostStatusPublishing})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Msg("interrupted publish check failed")
		}
		return
	}
	for _, p := range posts {
		if !s.isActive(p.ID) {
			s.interrupt(ctx, p)
		}
	}
}

// interrupt marks a publishing post with no running attempt as failed.
func (s *Scheduler) interrupt(ctx context.Context, p *model.ScheduledPost) {
	p.Status = model.PostStatusFailed
	p.ErrorMessage = errPublishInterrupted
	p.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(ctx, p); err != nil {
		s.log.Error().Err(err).Str("post_id", p.ID).Msg("interrupted post not saved")
		return
	}

	s.mu.Lock()
	st := s.states[p.ID]
	st.Step = model.StepFailed
	st.Message = errPublishInterrupted
	s.states[p.ID] = st
	s.mu.Unlock()

	s.notify(model.Notification{
		Type:     model.NotifyPostFailed,
		OwnerID:  p.OwnerID,
		PostID:   p.ID,
		Step:     model.StepFailed,
		Progress: st.Progress,
		Message:  errPublishInterrupted,
		At:       p.UpdatedAt,
	})
	s.log.Warn().Str("post_id", p.ID).Int("attempt", p.PublishAttempts).Msg("publish attempt interrupted")
}

// makeDurable replaces inline data URIs with uploaded URLs, keeping order.
func (s *Scheduler) makeDurable(ctx context.Context, p *model.ScheduledPost) error {
	var err error
	if p.ImageURL, err = s.durable(ctx, p.ImageURL); err != nil {
		return err
	}
	for i, u := range p.CarouselImageURLs {
		if p.CarouselImageURLs[i], err = s.durable(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) durable(ctx context.Context, u string) (string, error) {
	mimeType, data, ok := model.SplitDataURI(u)
	if !ok {
		return u, nil
	}
	if s.uploader == nil {
		return "", fmt.Errorf("inline media requires blob storage")
	}
	url, err := s.uploader.UploadBase64(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return url, nil
}

func (s *Scheduler) notify(n model.Notification) {
	if s.sink != nil {
		s.sink.Publish(n)
	}
}

func (s *Scheduler) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}
