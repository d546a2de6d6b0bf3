package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/scheduler"
)

const postColumns = `id, owner_id, content_id, image_url, carousel_image_urls, caption, hashtags,
	scheduled_date, scheduled_time, timezone, scheduled_timestamp, platforms, status,
	instagram_content_type, publish_attempts, last_publish_attempt, published_at,
	platform_post_id, error_message, created_at, updated_at`

// ScheduledPostRepository stores scheduled posts in Postgres. Carousel URLs
// are an ordered text[] so slide order survives the round trip.
type ScheduledPostRepository struct {
	db DBTX
}

var _ scheduler.Repository = (*ScheduledPostRepository)(nil)

func NewScheduledPostRepository(db DBTX) *ScheduledPostRepository {
	return &ScheduledPostRepository{db: db}
}

func (r *ScheduledPostRepository) Create(ctx context.Context, p *model.ScheduledPost) error {
	query := `INSERT INTO scheduled_posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.ContentID, p.ImageURL, pq.Array(nonNil(p.CarouselImageURLs)), p.Caption,
		pq.Array(nonNil(p.Hashtags)), p.ScheduledDate, p.ScheduledTime, p.Timezone, p.ScheduledTimestamp,
		string(p.Platforms), string(p.Status), string(p.InstagramContentType), p.PublishAttempts,
		p.LastPublishAttempt, p.PublishedAt, p.PlatformPostID, p.ErrorMessage, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *ScheduledPostRepository) Get(ctx context.Context, id string) (*model.ScheduledPost, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1`, id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *ScheduledPostRepository) List(ctx context.Context, f scheduler.ListFilter) ([]*model.ScheduledPost, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, "owner_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + postColumns + ` FROM scheduled_posts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var posts []*model.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return posts, nil
}

func (r *ScheduledPostRepository) Update(ctx context.Context, p *model.ScheduledPost) error {
	query := `UPDATE scheduled_posts SET
		image_url = $2, carousel_image_urls = $3, caption = $4, hashtags = $5,
		scheduled_date = $6, scheduled_time = $7, timezone = $8, scheduled_timestamp = $9,
		platforms = $10, status = $11, instagram_content_type = $12, publish_attempts = $13,
		last_publish_attempt = $14, published_at = $15, platform_post_id = $16,
		error_message = $17, updated_at = $18
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		p.ID, p.ImageURL, pq.Array(nonNil(p.CarouselImageURLs)), p.Caption, pq.Array(nonNil(p.Hashtags)),
		p.ScheduledDate, p.ScheduledTime, p.Timezone, p.ScheduledTimestamp,
		string(p.Platforms), string(p.Status), string(p.InstagramContentType), p.PublishAttempts,
		p.LastPublishAttempt, p.PublishedAt, p.PlatformPostID, p.ErrorMessage, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *ScheduledPostRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.ScheduledPost, error) {
	var (
		p                              model.ScheduledPost
		platforms, status, contentType string
		lastAttempt, publishedAt       sql.NullTime
		carousel, hashtags             pq.StringArray
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.ContentID, &p.ImageURL, &carousel, &p.Caption, &hashtags,
		&p.ScheduledDate, &p.ScheduledTime, &p.Timezone, &p.ScheduledTimestamp, &platforms, &status,
		&contentType, &p.PublishAttempts, &lastAttempt, &publishedAt,
		&p.PlatformPostID, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Platforms = model.Platform(platforms)
	p.Status = model.PostStatus(status)
	p.InstagramContentType = model.InstagramContentType(contentType)
	if len(carousel) > 0 {
		p.CarouselImageURLs = []string(carousel)
	}
	p.Hashtags = []string(hashtags)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		p.LastPublishAttempt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
