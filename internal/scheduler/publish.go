package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makeasinger/studio/internal/model"
)

var stepProgress = map[model.PublishStep]int{
	model.StepUploadingImage:    10,
	model.StepCreatingContainer: 40,
	model.StepCheckingStatus:    70,
	model.StepPublishing:        90,
	model.StepCompleted:         100,
}

var stepMessage = map[model.PublishStep]string{
	model.StepUploadingImage:    "Uploading media...",
	model.StepCreatingContainer: "Creating media container...",
	model.StepCheckingStatus:    "Waiting for media processing...",
	model.StepPublishing:        "Publishing...",
	model.StepCompleted:         "Published",
}

// BulkItem is the outcome for one post of a bulk publish.
type BulkItem struct {
	PostID string           `json:"postId"`
	Status model.PostStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Execute publishes one post now. Valid from scheduled or failed; each call
// is one attempt and increments PublishAttempts exactly once. A failed step
// leaves the post failed and returns a *model.PublishStepError.
func (s *Scheduler) Execute(ctx context.Context, ownerID, id string) (*model.ScheduledPost, error) {
	if !s.acquire(id) {
		return nil, model.ErrAlreadyPublishing
	}
	defer s.release(id)

	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !p.Platforms.IncludesInstagram() {
		return nil, model.ErrIneligiblePlatform
	}
	switch p.Status {
	case model.PostStatusScheduled, model.PostStatusFailed:
	case model.PostStatusPublishing:
		// This call holds the post's slot, so no attempt is running and the
		// stored status is left over from an interrupted one.
		s.log.Warn().Str("post_id", p.ID).Msg("retrying interrupted publish")
	default:
		return nil, fmt.Errorf("%w: cannot publish %s post", model.ErrInvalidTransition, p.Status)
	}

	now := s.opts.Now()
	p.Status = model.PostStatusPublishing
	p.PublishAttempts++
	p.LastPublishAttempt = &now
	p.ErrorMessage = ""
	p.UpdatedAt = now
	s.setState(p.ID, model.InstagramPublishState{Step: model.StepIdle})
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("start publish: %w", err)
	}

	log := s.log.With().Str("post_id", p.ID).Int("attempt", p.PublishAttempts).Logger()
	log.Info().Msg("publishing post")

	postID, step, err := s.runSteps(ctx, p)
	if err != nil {
		return s.fail(ctx, p, step, err)
	}

	done := s.opts.Now()
	p.Status = model.PostStatusPublished
	p.PublishedAt = &done
	p.PlatformPostID = postID
	p.UpdatedAt = done
	if err := s.repo.Update(context.WithoutCancel(ctx), p); err != nil {
		log.Error().Err(err).Msg("published but status not saved")
	}

	s.advance(p, model.StepCompleted, postID)
	s.notify(model.Notification{
		Type:     model.NotifyPostPublished,
		OwnerID:  p.OwnerID,
		PostID:   p.ID,
		Step:     model.StepCompleted,
		Progress: 100,
		Message:  postID,
		At:       done,
	})
	log.Info().Str("platform_post_id", postID).Msg("post published")
	return p, nil
}

// runSteps walks the publish sub-steps in order and returns the platform
// post id, or the step that failed.
func (s *Scheduler) runSteps(ctx context.Context, p *model.ScheduledPost) (string, model.PublishStep, error) {
	s.advance(p, model.StepUploadingImage, "")
	if err := s.makeDurable(ctx, p); err != nil {
		return "", model.StepUploadingImage, err
	}
	urls := p.MediaURLs()
	if len(urls) == 0 {
		return "", model.StepUploadingImage, model.ErrNoMedia
	}

	s.advance(p, model.StepCreatingContainer, "")
	containerID, err := s.platform.UploadMedia(ctx, model.MediaRequest{
		URLs:        urls,
		Caption:     p.FullCaption(),
		ContentType: p.InstagramContentType,
	})
	if err != nil {
		return "", model.StepCreatingContainer, err
	}

	s.advance(p, model.StepCheckingStatus, "")
	if err := s.waitReady(ctx, containerID); err != nil {
		return "", model.StepCheckingStatus, err
	}

	s.advance(p, model.StepPublishing, "")
	postID, err := s.platform.Publish(ctx, containerID)
	if err != nil {
		return "", model.StepPublishing, err
	}
	return postID, model.StepCompleted, nil
}

func (s *Scheduler) waitReady(ctx context.Context, containerID string) error {
	for attempt := 1; attempt <= s.opts.StatusPollAttempts; attempt++ {
		status, err := s.platform.CheckStatus(ctx, containerID)
		if err != nil {
			return err
		}
		switch status {
		case model.ContainerReady:
			return nil
		case model.ContainerError:
			return fmt.Errorf("container %s failed processing", containerID)
		}

		if attempt == s.opts.StatusPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.StatusPollInterval):
		}
	}
	return fmt.Errorf("container %s not ready after %d checks", containerID, s.opts.StatusPollAttempts)
}

func (s *Scheduler) fail(ctx context.Context, p *model.ScheduledPost, step model.PublishStep, cause error) (*model.ScheduledPost, error) {
	serr := &model.PublishStepError{Step: step, Err: cause}

	p.Status = model.PostStatusFailed
	p.ErrorMessage = cause.Error()
	p.UpdatedAt = s.opts.Now()
	if err := s.repo.Update(context.WithoutCancel(ctx), p); err != nil {
		s.log.Error().Err(err).Str("post_id", p.ID).Msg("failed status not saved")
	}

	s.mu.Lock()
	st := s.states[p.ID]
	st.Step = model.StepFailed
	st.Message = cause.Error()
	s.states[p.ID] = st
	s.mu.Unlock()

	s.notify(model.Notification{
		Type:     model.NotifyPostFailed,
		OwnerID:  p.OwnerID,
		PostID:   p.ID,
		Step:     step,
		Progress: st.Progress,
		Message:  cause.Error(),
		At:       p.UpdatedAt,
	})
	s.log.Error().Err(serr).Str("post_id", p.ID).Int("attempt", p.PublishAttempts).Msg("publish failed")
	return p, serr
}

// ExecuteBulk publishes posts one after another with BulkDelay between
// them. With no ids it publishes ownerID's due posts. Posts that do not
// target Instagram, or are neither scheduled nor failed, are skipped. A
// failure does not stop the batch.
func (s *Scheduler) ExecuteBulk(ctx context.Context, ownerID string, ids []string) ([]BulkItem, error) {
	if len(ids) == 0 {
		due, err := s.Due(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, d := range due {
			ids = append(ids, d.Post.ID)
		}
	}

	var eligible []string
	for _, id := range ids {
		p, err := s.Get(ctx, ownerID, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !p.Platforms.IncludesInstagram() {
			continue
		}
		if p.Status != model.PostStatusScheduled && p.Status != model.PostStatusFailed {
			continue
		}
		eligible = append(eligible, id)
	}

	results := make([]BulkItem, 0, len(eligible))
	for i, id := range eligible {
		if i > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.opts.BulkDelay):
			}
		}

		item := BulkItem{PostID: id}
		p, err := s.Execute(ctx, ownerID, id)
		if p != nil {
			item.Status = p.Status
		}
		if err != nil {
			item.Error = err.Error()
			if p == nil {
				item.Status = model.PostStatusFailed
			}
		}
		results = append(results, item)
	}

	s.log.Info().Str("owner_id", ownerID).Int("count", len(results)).Msg("bulk publish finished")
	return results, nil
}

// advance moves the transient state forward. Progress never decreases.
func (s *Scheduler) advance(p *model.ScheduledPost, step model.PublishStep, platformPostID string) {
	s.mu.Lock()
	st := s.states[p.ID]
	st.Step = step
	st.Message = stepMessage[step]
	st.Progress = max(st.Progress, stepProgress[step])
	if platformPostID != "" {
		st.PlatformPostID = platformPostID
	}
	s.states[p.ID] = st
	s.mu.Unlock()

	if step == model.StepCompleted {
		return
	}
	s.notify(model.Notification{
		Type:     model.NotifyPostProgress,
		OwnerID:  p.OwnerID,
		PostID:   p.ID,
		Step:     step,
		Progress: st.Progress,
		Message:  st.Message,
		At:       s.opts.Now(),
	})
}

func (s *Scheduler) setState(id string, st model.InstagramPublishState) {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}
