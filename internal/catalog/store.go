// Package catalog reads and writes the photo catalog: photos, albums and
// tags in SQLite or Postgres.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrAlbumNotFound is returned when an album id does not resolve.
	ErrAlbumNotFound = errors.New("album not found")
	// ErrPhotoNotFound is returned when a photo id does not resolve.
	ErrPhotoNotFound = errors.New("photo not found")
	// ErrInvalidRating is returned for ratings outside 0..5.
	ErrInvalidRating = errors.New("rating must be between 0 and 5")
)

const chunkSize = 500

// Store is the SQL-backed photo catalog. A "postgres://" or
// "postgresql://" DSN selects lib/pq; anything else is a SQLite file path.
type Store struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

// Open connects to the catalog and creates missing tables.
func Open(dsn string) (*Store, error) {
	d := dialectFor(dsn)
	var (
		db  *sql.DB
		err error
	)
	if d.name == "postgres" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("sql open failed for postgres catalog: %w", err)
		}
	} else {
		db, err = openSQLite(dsn)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create catalog schema: %w", err)
		}
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open failed for %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	for _, pragma := range []string{
		`PRAGMA journal_mode=DELETE;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s failed for %s: %w", strings.TrimSuffix(pragma, ";"), path, err)
		}
	}
	return db, nil
}

func isRetryableSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "unable to open database file")
}

func withRetry(op func() error) error {
	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < 4; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isRetryableSQLiteError(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PhotoInput is the data needed to add a photo to the catalog.
type PhotoInput struct {
	SourcePath       string
	OriginalFilename string
	CaptureDate      *time.Time
	CameraModel      string
	Rating           int
	ContentHash      string
}

// AddPhoto inserts a photo and returns its id.
func (s *Store) AddPhoto(ctx context.Context, in PhotoInput) (int64, error) {
	if in.Rating < 0 || in.Rating > 5 {
		return 0, ErrInvalidRating
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withRetry(func() error {
		return s.db.QueryRowContext(ctx, s.dialect.rebind(`
			INSERT INTO images (file_path, original_filename, capture_date, camera_model, rating, content_hash, date_added)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`),
			in.SourcePath,
			nullString(in.OriginalFilename),
			nullTime(in.CaptureDate),
			nullString(in.CameraModel),
			in.Rating,
			nullString(in.ContentHash),
			formatTime(time.Now()),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert photo %s: %w", in.SourcePath, err)
	}
	return id, nil
}

// HasContentHash reports whether a photo with the given content hash or
// source path is already cataloged.
func (s *Store) HasContentHash(ctx context.Context, hash, path string) (bool, error) {
	var found bool
	err := withRetry(func() error {
		var x int
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT 1 FROM images WHERE content_hash = ? OR file_path = ? LIMIT 1`,
		), hash, path).Scan(&x)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// SetRating updates a photo's rating.
func (s *Store) SetRating(ctx context.Context, photoID int64, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	err := withRetry(func() error {
		res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE images SET rating = ? WHERE id = ?`), rating, photoID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPhotoNotFound
	}
	return nil
}

// AddTags attaches tags to a photo, creating tag names as needed. Tags
// already on the photo are left as they are.
func (s *Store) AddTags(ctx context.Context, photoID int64, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		insertTag, err := tx.PrepareContext(ctx, s.dialect.rebind(`INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING`))
		if err != nil {
			return err
		}
		defer insertTag.Close()
		lookupTag, err := tx.PrepareContext(ctx, s.dialect.rebind(`SELECT id FROM tags WHERE name = ?`))
		if err != nil {
			return err
		}
		defer lookupTag.Close()
		linkTag, err := tx.PrepareContext(ctx, s.dialect.rebind(`
			INSERT INTO image_tags (image_id, tag_id, is_ai_generated, confidence)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (image_id, tag_id) DO NOTHING
		`))
		if err != nil {
			return err
		}
		defer linkTag.Close()

		for _, tag := range tags {
			name := strings.TrimSpace(tag.Name)
			if name == "" {
				continue
			}
			if _, err := insertTag.ExecContext(ctx, name); err != nil {
				return err
			}
			var tagID int64
			if err := lookupTag.QueryRowContext(ctx, name).Scan(&tagID); err != nil {
				return err
			}
			var conf sql.NullFloat64
			if tag.Confidence != nil {
				conf = sql.NullFloat64{Float64: *tag.Confidence, Valid: true}
			}
			if _, err := linkTag.ExecContext(ctx, photoID, tagID, tag.AIGenerated, conf); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// CreateAlbum inserts an album and returns its id.
func (s *Store) CreateAlbum(ctx context.Context, name, description string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("album name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := withRetry(func() error {
		return s.db.QueryRowContext(ctx, s.dialect.rebind(`
			INSERT INTO albums (name, description, date_created) VALUES (?, ?, ?) RETURNING id
		`), name, nullString(description), formatTime(time.Now())).Scan(&id)
	})
	return id, err
}

// AddToAlbum appends photos to the end of an album in the given order.
// Photos already in the album keep their position.
func (s *Store) AddToAlbum(ctx context.Context, albumID int64, photoIDs ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var exists int
		err = tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM albums WHERE id = ?`), albumID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlbumNotFound
		}
		if err != nil {
			return err
		}
		var next int
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT COALESCE(MAX(position), -1) + 1 FROM album_photos WHERE album_id = ?`,
		), albumID).Scan(&next); err != nil {
			return err
		}
		for _, photoID := range photoIDs {
			res, err := tx.ExecContext(ctx, s.dialect.rebind(`
				INSERT INTO album_photos (album_id, image_id, position) VALUES (?, ?, ?)
				ON CONFLICT (album_id, image_id) DO NOTHING
			`), albumID, photoID, next)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				next++
			}
		}
		return tx.Commit()
	})
}

// PhotosByIDs resolves ids in the order given. Unknown ids are skipped;
// repeated ids yield repeated records.
func (s *Store) PhotosByIDs(ctx context.Context, ids []int64) ([]Photo, error) {
	if len(ids) == 0 {
		return []Photo{}, nil
	}
	byID := make(map[int64]Photo, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		placeholders := strings.TrimRight(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk))
		for _, id := range chunk {
			args = append(args, id)
		}
		query := fmt.Sprintf(`SELECT %s FROM images i WHERE i.id IN (%s)`, photoColumns, placeholders)
		photos, err := s.queryPhotos(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for _, p := range photos {
			byID[p.ID] = p
		}
	}

	ordered := make([]Photo, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	if err := s.attachTags(ctx, ordered); err != nil {
		return nil, err
	}
	return ordered, nil
}

// AlbumPhotos returns the album's photos in album order.
func (s *Store) AlbumPhotos(ctx context.Context, albumID int64) ([]Photo, error) {
	var exists int
	err := withRetry(func() error {
		return s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM albums WHERE id = ?`), albumID).Scan(&exists)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlbumNotFound
	}
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM images i
		JOIN album_photos ap ON ap.image_id = i.id
		WHERE ap.album_id = ?
		ORDER BY ap.position ASC, ap.id ASC
	`, photoColumns)
	photos, err := s.queryPhotos(ctx, query, albumID)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, photos); err != nil {
		return nil, err
	}
	return photos, nil
}

const photoColumns = `i.id, i.file_path, i.original_filename, i.capture_date, i.camera_model, i.rating`

func (s *Store) queryPhotos(ctx context.Context, query string, args ...any) ([]Photo, error) {
	items := make([]Photo, 0)
	err := withRetry(func() error {
		items = items[:0]
		rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				p        Photo
				original sql.NullString
				captured sql.NullString
				camera   sql.NullString
			)
			if err := rows.Scan(&p.ID, &p.SourcePath, &original, &captured, &camera, &p.Rating); err != nil {
				return err
			}
			if original.Valid {
				v := original.String
				p.OriginalFilename = &v
			}
			if camera.Valid {
				v := camera.String
				p.CameraModel = &v
			}
			if captured.Valid {
				if t, err := parseTime(captured.String); err == nil {
					p.CaptureDate = &t
				}
			}
			p.Tags = []string{}
			items = append(items, p)
		}
		return rows.Err()
	})
	return items, err
}

func (s *Store) attachTags(ctx context.Context, photos []Photo) error {
	if len(photos) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(photos))
	ids := make([]int64, 0, len(photos))
	for _, p := range photos {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}

	tagsByID := make(map[int64][]string, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		placeholders := strings.TrimRight(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk))
		for _, id := range chunk {
			args = append(args, id)
		}
		query := fmt.Sprintf(`
			SELECT it.image_id, t.name FROM image_tags it
			JOIN tags t ON t.id = it.tag_id
			WHERE it.image_id IN (%s)
			ORDER BY it.id ASC
		`, placeholders)
		err := withRetry(func() error {
			rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var name string
				if err := rows.Scan(&id, &name); err != nil {
					return err
				}
				tagsByID[id] = append(tagsByID[id], name)
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}
	}

	for i := range photos {
		if names, ok := tagsByID[photos[i].ID]; ok {
			photos[i].Tags = append([]string(nil), names...)
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
}
