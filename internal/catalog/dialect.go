package catalog

import (
	"strconv"
	"strings"
)

type dialect struct {
	name   string
	schema []string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT NOT NULL UNIQUE,
			original_filename TEXT,
			capture_date TEXT,
			camera_model TEXT,
			rating INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT,
			date_added TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_images_content_hash ON images (content_hash);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS image_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			is_ai_generated BOOLEAN NOT NULL DEFAULT 0,
			confidence REAL,
			UNIQUE(image_id, tag_id)
		);`,
		`CREATE TABLE IF NOT EXISTS albums (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			date_created TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS album_photos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			album_id INTEGER NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			image_id INTEGER NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			position INTEGER NOT NULL DEFAULT 0,
			UNIQUE(album_id, image_id)
		);`,
	},
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS images (
			id BIGSERIAL PRIMARY KEY,
			file_path TEXT NOT NULL UNIQUE,
			original_filename TEXT,
			capture_date TEXT,
			camera_model TEXT,
			rating INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT,
			date_added TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_images_content_hash ON images (content_hash);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS image_tags (
			id BIGSERIAL PRIMARY KEY,
			image_id BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			is_ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
			confidence DOUBLE PRECISION,
			UNIQUE(image_id, tag_id)
		);`,
		`CREATE TABLE IF NOT EXISTS albums (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			date_created TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS album_photos (
			id BIGSERIAL PRIMARY KEY,
			album_id BIGINT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			image_id BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			position INTEGER NOT NULL DEFAULT 0,
			UNIQUE(album_id, image_id)
		);`,
	},
}

func dialectFor(dsn string) dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgresDialect
	}
	return sqliteDialect
}

// rebind rewrites '?' placeholders into the dialect's bind syntax.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
