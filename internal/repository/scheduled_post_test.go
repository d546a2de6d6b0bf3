package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/scheduler"
)

var postColumnNames = []string{
	"id", "owner_id", "content_id", "image_url", "carousel_image_urls", "caption", "hashtags",
	"scheduled_date", "scheduled_time", "timezone", "scheduled_timestamp", "platforms", "status",
	"instagram_content_type", "publish_attempts", "last_publish_attempt", "published_at",
	"platform_post_id", "error_message", "created_at", "updated_at",
}

func TestScheduledPost_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	p := &model.ScheduledPost{
		ID: "sp1", OwnerID: "u1", CarouselImageURLs: []string{"https://cdn/u1.png", "https://cdn/u2.png"},
		Caption: "hello", ScheduledDate: "2026-05-05", ScheduledTime: "09:00", Timezone: "UTC",
		ScheduledTimestamp: 1777971600000, Platforms: model.PlatformInstagram, Status: model.PostStatusScheduled,
		InstagramContentType: model.InstagramCarousel, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`(?s)^INSERT INTO scheduled_posts \(id, owner_id,.+VALUES \(\$1,.+\$21\)$`).
		WithArgs("sp1", "u1", "", "", pq.Array([]string{"https://cdn/u1.png", "https://cdn/u2.png"}), "hello",
			pq.Array([]string{}), "2026-05-05", "09:00", "UTC", int64(1777971600000), "instagram", "scheduled",
			"carousel", 0, nil, nil, "", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledPost_GetKeepsCarouselOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(postColumnNames).AddRow(
		"sp1", "u1", "post-3", "", `{"https://cdn/u3.png","https://cdn/u1.png","https://cdn/u2.png"}`, "hi",
		`{sale,summer}`, "2026-05-05", "09:00", "Europe/Istanbul", int64(1777960800000), "both", "failed",
		"carousel", 2, now, nil, "", "container error", now, now)
	mock.ExpectQuery(`(?s)^SELECT .+ FROM scheduled_posts WHERE id = \$1$`).WithArgs("sp1").WillReturnRows(rows)

	p, err := repo.Get(context.Background(), "sp1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/u3.png", "https://cdn/u1.png", "https://cdn/u2.png"}, p.CarouselImageURLs)
	assert.Equal(t, []string{"sale", "summer"}, p.Hashtags)
	assert.Equal(t, model.PlatformBoth, p.Platforms)
	assert.Equal(t, model.PostStatusFailed, p.Status)
	assert.Equal(t, 2, p.PublishAttempts)
	require.NotNil(t, p.LastPublishAttempt)
	assert.Nil(t, p.PublishedAt)
}

func TestScheduledPost_GetMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)

	mock.ExpectQuery(`FROM scheduled_posts WHERE id`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScheduledPost_ListFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)

	mock.ExpectQuery(`(?s)FROM scheduled_posts WHERE owner_id = \$1 AND status = \$2 ORDER BY scheduled_timestamp, id$`).
		WithArgs("u1", "scheduled").
		WillReturnRows(sqlmock.NewRows(postColumnNames))
	posts, err := repo.List(context.Background(), scheduler.ListFilter{OwnerID: "u1", Status: model.PostStatusScheduled})
	require.NoError(t, err)
	assert.Empty(t, posts)

	mock.ExpectQuery(`(?s)FROM scheduled_posts ORDER BY scheduled_timestamp, id$`).
		WillReturnRows(sqlmock.NewRows(postColumnNames))
	_, err = repo.List(context.Background(), scheduler.ListFilter{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduledPost_UpdateMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)

	mock.ExpectExec(`^UPDATE scheduled_posts SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), &model.ScheduledPost{ID: "gone"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScheduledPost_Delete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduledPostRepository(db)

	mock.ExpectExec(`^DELETE FROM scheduled_posts WHERE id = \$1$`).WithArgs("sp1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "sp1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
