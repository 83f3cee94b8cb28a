// Package sqlite implements feed.Store on an embedded SQLite database, the
// default backend for a single-node bot.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Store implements feed.Store.
type Store struct {
	db *sql.DB
}

// Open opens path (or ":memory:"), enables WAL and a busy timeout, and
// migrates the schema.
func Open(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenConnection opens a configured connection without migrating.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscriptions implements feed.Store.
func (s *Store) Subscriptions(ctx context.Context) ([]feed.Subscription, error) {
	return s.subscriptions(ctx,
		`SELECT title_url, recipient_id FROM subscriptions ORDER BY title_url, recipient_id`)
}

// SubscriptionsOf implements feed.Store.
func (s *Store) SubscriptionsOf(ctx context.Context, recipientID string) ([]feed.Subscription, error) {
	return s.subscriptions(ctx,
		`SELECT title_url, recipient_id FROM subscriptions WHERE recipient_id = ? ORDER BY title_url`, recipientID)
}

func (s *Store) subscriptions(ctx context.Context, query string, args ...any) ([]feed.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	var out []feed.Subscription
	for rows.Next() {
		var sub feed.Subscription
		if err := rows.Scan(&sub.TitleURL, &sub.RecipientID); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// AddSubscription implements feed.Store.
func (s *Store) AddSubscription(ctx context.Context, sub feed.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (title_url, recipient_id) VALUES (?, ?)`, sub.TitleURL, sub.RecipientID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements feed.Store.
func (s *Store) DeleteSubscription(ctx context.Context, sub feed.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE title_url = ? AND recipient_id = ?`, sub.TitleURL, sub.RecipientID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// DeleteSubscriptions implements feed.Store.
func (s *Store) DeleteSubscriptions(ctx context.Context, recipientID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE recipient_id = ?`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions of %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted subscriptions: %w", err)
	}
	return int(n), nil
}

// LastChapters implements feed.Store.
func (s *Store) LastChapters(ctx context.Context) ([]feed.LastChapter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title_url, chapter_url FROM last_chapters ORDER BY title_url`)
	if err != nil {
		return nil, fmt.Errorf("query last chapters: %w", err)
	}
	defer rows.Close()
	var out []feed.LastChapter
	for rows.Next() {
		var lc feed.LastChapter
		if err := rows.Scan(&lc.TitleURL, &lc.ChapterURL); err != nil {
			return nil, fmt.Errorf("scan last chapter: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// LastChapter implements feed.Store.
func (s *Store) LastChapter(ctx context.Context, titleURL string) (feed.LastChapter, error) {
	lc := feed.LastChapter{TitleURL: titleURL}
	err := s.db.QueryRowContext(ctx, `SELECT chapter_url FROM last_chapters WHERE title_url = ?`, titleURL).
		Scan(&lc.ChapterURL)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.LastChapter{}, feed.ErrNotFound
	}
	if err != nil {
		return feed.LastChapter{}, fmt.Errorf("query last chapter: %w", err)
	}
	return lc, nil
}

// PutLastChapter implements feed.Store.
func (s *Store) PutLastChapter(ctx context.Context, last feed.LastChapter) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO last_chapters (title_url, chapter_url) VALUES (?, ?)
ON CONFLICT (title_url) DO UPDATE SET chapter_url = excluded.chapter_url`, last.TitleURL, last.ChapterURL)
	if err != nil {
		return fmt.Errorf("upsert last chapter: %w", err)
	}
	return nil
}

// TitleNames implements feed.Store.
func (s *Store) TitleNames(ctx context.Context) ([]feed.TitleName, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title_url, name FROM title_names ORDER BY title_url`)
	if err != nil {
		return nil, fmt.Errorf("query title names: %w", err)
	}
	defer rows.Close()
	var out []feed.TitleName
	for rows.Next() {
		var n feed.TitleName
		if err := rows.Scan(&n.TitleURL, &n.Name); err != nil {
			return nil, fmt.Errorf("scan title name: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PutTitleName implements feed.Store.
func (s *Store) PutTitleName(ctx context.Context, name feed.TitleName) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO title_names (title_url, name) VALUES (?, ?)
ON CONFLICT (title_url) DO UPDATE SET name = excluded.name`, name.TitleURL, name.Name)
	if err != nil {
		return fmt.Errorf("upsert title name: %w", err)
	}
	return nil
}

// DeliveredFile implements feed.Store.
func (s *Store) DeliveredFile(ctx context.Context, chapterURL string) (feed.DeliveredFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT format, handle FROM delivered_files WHERE chapter_url = ? ORDER BY format`, chapterURL)
	if err != nil {
		return feed.DeliveredFile{}, fmt.Errorf("query delivered file: %w", err)
	}
	defer rows.Close()
	file := feed.DeliveredFile{ChapterURL: chapterURL}
	for rows.Next() {
		var (
			format int64
			handle string
		)
		if err := rows.Scan(&format, &handle); err != nil {
			return feed.DeliveredFile{}, fmt.Errorf("scan delivered file: %w", err)
		}
		file.SetHandle(feed.FormatFromBits(format), handle)
	}
	if err := rows.Err(); err != nil {
		return feed.DeliveredFile{}, fmt.Errorf("iterate delivered file: %w", err)
	}
	if len(file.Handles) == 0 {
		return feed.DeliveredFile{}, feed.ErrNotFound
	}
	return file, nil
}

// PutDeliveredFile implements feed.Store, merging handles per format in one transaction.
func (s *Store) PutDeliveredFile(ctx context.Context, file feed.DeliveredFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delivered file tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for format, handle := range file.Handles {
		if handle == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO delivered_files (chapter_url, format, handle) VALUES (?, ?, ?)
ON CONFLICT (chapter_url, format) DO UPDATE SET handle = excluded.handle`,
			file.ChapterURL, int64(format), handle); err != nil {
			return fmt.Errorf("upsert delivered file: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delivered file: %w", err)
	}
	return nil
}

// Preference implements feed.Store.
func (s *Store) Preference(ctx context.Context, recipientID string) (feed.Preference, error) {
	var formats int64
	err := s.db.QueryRowContext(ctx, `SELECT formats FROM preferences WHERE recipient_id = ?`, recipientID).
		Scan(&formats)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Preference{}, feed.ErrNotFound
	}
	if err != nil {
		return feed.Preference{}, fmt.Errorf("query preference: %w", err)
	}
	return feed.Preference{RecipientID: recipientID, Formats: feed.FormatFromBits(formats)}, nil
}

// PutPreference implements feed.Store.
func (s *Store) PutPreference(ctx context.Context, pref feed.Preference) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO preferences (recipient_id, formats) VALUES (?, ?)
ON CONFLICT (recipient_id) DO UPDATE SET formats = excluded.formats`, pref.RecipientID, int64(pref.Formats))
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}
