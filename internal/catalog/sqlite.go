package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteStore persists the catalog in a SQLite database. Save replaces the
// whole catalog inside one transaction, which gives the same all-or-nothing
// visibility as the JSON store's rename.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(ctx context.Context) (*Catalog, error) {
	var collectionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM catalog_meta WHERE key = 'collection_id'").Scan(&collectionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read collection id: %w", err)
	}

	// Ordered by insertion position so load(save(c)) returns videos in the
	// same order the JSON backend would.
	rows, err := s.db.QueryContext(ctx, `
		SELECT filepath, filename, video_id, task_id, status, error
		FROM videos ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("read videos: %w", err)
	}
	defer rows.Close()

	c := &Catalog{CollectionID: collectionID}
	for rows.Next() {
		var rec VideoRecord
		var status string
		if err := rows.Scan(&rec.Filepath, &rec.Filename, &rec.VideoID, &rec.TaskID, &status, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		rec.Status = Status(status)
		c.Videos = append(c.Videos, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c *Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (key, value) VALUES ('collection_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, c.CollectionID); err != nil {
		return fmt.Errorf("save collection id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM videos"); err != nil {
		return fmt.Errorf("clear videos: %w", err)
	}

	for i, rec := range c.Videos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO videos (filepath, filename, video_id, task_id, status, error, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Filepath, rec.Filename, rec.VideoID, rec.TaskID, string(rec.Status), rec.Error, i); err != nil {
			return fmt.Errorf("save video %s: %w", rec.Filepath, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FindByVideoID(ctx context.Context, id string) (*VideoRecord, error) {
	if id == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT filepath, filename, video_id, task_id, status, error
		FROM videos WHERE video_id = ?
	`, id)

	var rec VideoRecord
	var status string
	err := row.Scan(&rec.Filepath, &rec.Filename, &rec.VideoID, &rec.TaskID, &status, &rec.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find video: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}
