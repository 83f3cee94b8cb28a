// Package postgres implements feed.Store on Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Schema creates every table the store uses. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	title_url    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	PRIMARY KEY (title_url, recipient_id)
);
CREATE INDEX IF NOT EXISTS subscriptions_recipient_idx ON subscriptions (recipient_id);
CREATE TABLE IF NOT EXISTS last_chapters (
	title_url   TEXT PRIMARY KEY,
	chapter_url TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS title_names (
	title_url TEXT PRIMARY KEY,
	name      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS delivered_files (
	chapter_url TEXT    NOT NULL,
	format      INTEGER NOT NULL,
	handle      TEXT    NOT NULL,
	PRIMARY KEY (chapter_url, format)
);
CREATE TABLE IF NOT EXISTS preferences (
	recipient_id TEXT PRIMARY KEY,
	formats      INTEGER NOT NULL
);`

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements feed.Store.
type Store struct {
	pool pool
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool, mainly for tests.
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Subscriptions implements feed.Store.
func (s *Store) Subscriptions(ctx context.Context) ([]feed.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title_url, recipient_id FROM subscriptions ORDER BY title_url, recipient_id`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// SubscriptionsOf implements feed.Store.
func (s *Store) SubscriptionsOf(ctx context.Context, recipientID string) ([]feed.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title_url, recipient_id FROM subscriptions WHERE recipient_id = $1 ORDER BY title_url`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions of %s: %w", recipientID, err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]feed.Subscription, error) {
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (feed.Subscription, error) {
		var sub feed.Subscription
		err := row.Scan(&sub.TitleURL, &sub.RecipientID)
		return sub, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}
	return subs, nil
}

// AddSubscription implements feed.Store.
func (s *Store) AddSubscription(ctx context.Context, sub feed.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (title_url, recipient_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		sub.TitleURL, sub.RecipientID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements feed.Store.
func (s *Store) DeleteSubscription(ctx context.Context, sub feed.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE title_url = $1 AND recipient_id = $2`, sub.TitleURL, sub.RecipientID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// DeleteSubscriptions implements feed.Store.
func (s *Store) DeleteSubscriptions(ctx context.Context, recipientID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions of %s: %w", recipientID, err)
	}
	return int(tag.RowsAffected()), nil
}

// LastChapters implements feed.Store.
func (s *Store) LastChapters(ctx context.Context) ([]feed.LastChapter, error) {
	rows, err := s.pool.Query(ctx, `SELECT title_url, chapter_url FROM last_chapters ORDER BY title_url`)
	if err != nil {
		return nil, fmt.Errorf("query last chapters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (feed.LastChapter, error) {
		var lc feed.LastChapter
		err := row.Scan(&lc.TitleURL, &lc.ChapterURL)
		return lc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan last chapters: %w", err)
	}
	return out, nil
}

// LastChapter implements feed.Store.
func (s *Store) LastChapter(ctx context.Context, titleURL string) (feed.LastChapter, error) {
	lc := feed.LastChapter{TitleURL: titleURL}
	err := s.pool.QueryRow(ctx, `SELECT chapter_url FROM last_chapters WHERE title_url = $1`, titleURL).
		Scan(&lc.ChapterURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.LastChapter{}, feed.ErrNotFound
	}
	if err != nil {
		return feed.LastChapter{}, fmt.Errorf("query last chapter: %w", err)
	}
	return lc, nil
}

// PutLastChapter implements feed.Store.
func (s *Store) PutLastChapter(ctx context.Context, last feed.LastChapter) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO last_chapters (title_url, chapter_url) VALUES ($1, $2)
ON CONFLICT (title_url) DO UPDATE SET chapter_url = EXCLUDED.chapter_url`,
		last.TitleURL, last.ChapterURL)
	if err != nil {
		return fmt.Errorf("upsert last chapter: %w", err)
	}
	return nil
}

// TitleNames implements feed.Store.
func (s *Store) TitleNames(ctx context.Context) ([]feed.TitleName, error) {
	rows, err := s.pool.Query(ctx, `SELECT title_url, name FROM title_names ORDER BY title_url`)
	if err != nil {
		return nil, fmt.Errorf("query title names: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (feed.TitleName, error) {
		var n feed.TitleName
		err := row.Scan(&n.TitleURL, &n.Name)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan title names: %w", err)
	}
	return out, nil
}

// PutTitleName implements feed.Store.
func (s *Store) PutTitleName(ctx context.Context, name feed.TitleName) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO title_names (title_url, name) VALUES ($1, $2)
ON CONFLICT (title_url) DO UPDATE SET name = EXCLUDED.name`,
		name.TitleURL, name.Name)
	if err != nil {
		return fmt.Errorf("upsert title name: %w", err)
	}
	return nil
}

// DeliveredFile implements feed.Store.
func (s *Store) DeliveredFile(ctx context.Context, chapterURL string) (feed.DeliveredFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT format, handle FROM delivered_files WHERE chapter_url = $1 ORDER BY format`, chapterURL)
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

// PutDeliveredFile implements feed.Store, merging handles per format.
func (s *Store) PutDeliveredFile(ctx context.Context, file feed.DeliveredFile) error {
	for _, format := range handleFormats(file) {
		_, err := s.pool.Exec(ctx, `
INSERT INTO delivered_files (chapter_url, format, handle) VALUES ($1, $2, $3)
ON CONFLICT (chapter_url, format) DO UPDATE SET handle = EXCLUDED.handle`,
			file.ChapterURL, int(format), file.Handles[format])
		if err != nil {
			return fmt.Errorf("upsert delivered file: %w", err)
		}
	}
	return nil
}

// Preference implements feed.Store.
func (s *Store) Preference(ctx context.Context, recipientID string) (feed.Preference, error) {
	pref := feed.Preference{RecipientID: recipientID}
	var formats int64
	err := s.pool.QueryRow(ctx, `SELECT formats FROM preferences WHERE recipient_id = $1`, recipientID).Scan(&formats)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Preference{}, feed.ErrNotFound
	}
	if err != nil {
		return feed.Preference{}, fmt.Errorf("query preference: %w", err)
	}
	pref.Formats = feed.FormatFromBits(formats)
	return pref, nil
}

// PutPreference implements feed.Store.
func (s *Store) PutPreference(ctx context.Context, pref feed.Preference) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO preferences (recipient_id, formats) VALUES ($1, $2)
ON CONFLICT (recipient_id) DO UPDATE SET formats = EXCLUDED.formats`,
		pref.RecipientID, int(pref.Formats))
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// handleFormats lists the formats with a handle in flag order so writes are deterministic.
func handleFormats(file feed.DeliveredFile) []feed.Format {
	var all feed.Format
	for format := range file.Handles {
		all = all.Union(format)
	}
	out := make([]feed.Format, 0, len(file.Handles))
	for _, format := range all.Formats() {
		if _, ok := file.Handle(format); ok {
			out = append(out, format)
		}
	}
	return out
}
