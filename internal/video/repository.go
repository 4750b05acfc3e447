package video

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tvidz/inspector/internal/db"
)

type Repository interface {
	InsertVideo(ctx context.Context, filename string, cuts []float64, duplicateOf *int64) (int64, error)
	GetVideoByFilename(ctx context.Context, filename string) (*StoredVideo, error)
	ListCutSets(ctx context.Context) ([]CutSet, error)
	CountVideos(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

type SQLRepository struct {
	db *db.DB
}

func NewRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

// InsertVideo writes the video row and its cut list in one transaction
// and returns the new video id.
func (r *SQLRepository) InsertVideo(ctx context.Context, filename string, cuts []float64, duplicateOf *int64) (int64, error) {
	if cuts == nil {
		cuts = []float64{}
	}
	cutsJSON, err := json.Marshal(cuts)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cuts: %w", err)
	}

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	uploadTime := time.Now().UTC().Format(time.RFC3339)

	var videoID int64
	if r.db.Driver() == "postgres" {
		err = tx.QueryRowContext(ctx, r.db.Rebind(`
			INSERT INTO videos (filename, upload_time, duplicate_of) VALUES (?, ?, ?) RETURNING id
		`), filename, uploadTime, nullInt64(duplicateOf)).Scan(&videoID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert video: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO videos (filename, upload_time, duplicate_of) VALUES (?, ?, ?)
		`, filename, uploadTime, nullInt64(duplicateOf))
		if err != nil {
			return 0, fmt.Errorf("failed to insert video: %w", err)
		}
		videoID, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read video id: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO video_cuts (video_id, cuts) VALUES (?, ?)
	`), videoID, string(cutsJSON)); err != nil {
		return 0, fmt.Errorf("failed to insert cuts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return videoID, nil
}

func (r *SQLRepository) GetVideoByFilename(ctx context.Context, filename string) (*StoredVideo, error) {
	row := r.db.Conn().QueryRowContext(ctx, r.db.Rebind(`
		SELECT v.id, v.filename, v.upload_time, v.duplicate_of, c.cuts
		FROM videos v
		JOIN video_cuts c ON c.video_id = v.id
		WHERE v.filename = ?
		ORDER BY v.id DESC
		LIMIT 1
	`), filename)

	var v StoredVideo
	var uploadTime, cutsJSON string
	var duplicateOf sql.NullInt64

	err := row.Scan(&v.ID, &v.Filename, &uploadTime, &duplicateOf, &cutsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.UploadTime, _ = time.Parse(time.RFC3339, uploadTime)
	if duplicateOf.Valid {
		v.DuplicateOf = &duplicateOf.Int64
	}
	if err := json.Unmarshal([]byte(cutsJSON), &v.Cuts); err != nil {
		return nil, fmt.Errorf("failed to decode cuts for video %d: %w", v.ID, err)
	}
	return &v, nil
}

func (r *SQLRepository) ListCutSets(ctx context.Context) ([]CutSet, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT v.id, v.filename, c.cuts
		FROM videos v
		JOIN video_cuts c ON c.video_id = v.id
		ORDER BY v.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []CutSet
	for rows.Next() {
		var cs CutSet
		var cutsJSON string
		if err := rows.Scan(&cs.VideoID, &cs.Filename, &cutsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cutsJSON), &cs.Cuts); err != nil {
			return nil, fmt.Errorf("failed to decode cuts for video %d: %w", cs.VideoID, err)
		}
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

func (r *SQLRepository) CountVideos(ctx context.Context) (int, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM videos").Scan(&count)
	return count, err
}

// Reset deletes every stored row. It is destructive and idempotent.
func (r *SQLRepository) Reset(ctx context.Context) error {
	if _, err := r.db.Conn().ExecContext(ctx, "DELETE FROM video_cuts"); err != nil {
		return err
	}
	_, err := r.db.Conn().ExecContext(ctx, "DELETE FROM videos")
	return err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
