package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/makeasinger/studio/internal/model"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var contentTables = map[model.ContentKind]string{
	model.ContentKindPost: "posts",
	model.ContentKindAd:   "ad_creatives",
	model.ContentKindClip: "video_scripts",
}

func contentTable(kind model.ContentKind) (string, error) {
	t, ok := contentTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown content kind %q", kind)
	}
	return t, nil
}

// ContentRepository reads and repairs posts, ad creatives and video scripts.
type ContentRepository struct {
	db  DBTX
	now func() time.Time
}

func NewContentRepository(db DBTX) *ContentRepository {
	return &ContentRepository{db: db, now: time.Now}
}

// ListByCampaign returns ownerID's items of kind in a campaign ordered by position.
func (r *ContentRepository) ListByCampaign(ctx context.Context, ownerID string, kind model.ContentKind, campaignID string) ([]model.ContentItem, error) {
	table, err := contentTable(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, campaign_id, platform, position, image_prompt, COALESCE(image_url, ''), updated_at
		FROM ` + table + `
		WHERE owner_id = $1 AND campaign_id = $2
		ORDER BY position, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		item := model.ContentItem{Kind: kind, OwnerID: ownerID}
		if err := rows.Scan(&item.ID, &item.CampaignID, &item.Platform, &item.Position,
			&item.ImagePrompt, &item.ImageURL, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

// UpdateItemImage sets image_url on one of ownerID's items. Unknown ids, and
// items of other owners, yield model.ErrNotFound.
func (r *ContentRepository) UpdateItemImage(ctx context.Context, ownerID string, kind model.ContentKind, itemID, url string) error {
	table, err := contentTable(kind)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET image_url = $1, updated_at = $2 WHERE id = $3 AND owner_id = $4`,
		url, r.now(), itemID, ownerID)
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
