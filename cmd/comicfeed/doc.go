// Package main hosts the comicfeed entrypoint.
//
// Architecture overview:
//   - Sources: internal/source adapters (mangadex, comick, asura) share one rate-limited, retrying HTTP client built
//     on Colly, with optional promotion to a headless Chromedp fetch for script-rendered pages. A registry routes
//     title URLs to the adapter that owns them.
//   - Update loop: internal/updater starts a scanner pass every updater.period_seconds, start to start. The scanner
//     asks adapters with a bulk update feed which titles moved, walks the rest chapter by chapter back to the stored
//     watermark, and enqueues one delivery per new chapter and subscriber, oldest first.
//   - Delivery: a keyed in-memory queue serializes deliveries per recipient and fans them out to a fixed worker pool.
//     Workers download pages, render PDF, CBZ or EPUB documents, upload them through Telegram and remember the
//     returned file handle so a chapter is uploaded once per format. Documents are optionally archived to local disk
//     or GCS and announced on Pub/Sub.
//   - Front end: internal/telegram handles search, chapter paging, manual downloads, subscriptions and per-user
//     format preferences through inline keyboards.
//   - Persistence: subscriptions, watermarks, title names, delivered file handles and preferences live in memory,
//     SQLite or Postgres (db.driver). `comicfeed migrate` applies the schema.
//   - Configuration & plumbing: Viper populates config from a file and COMICFEED_* env vars; zap provides structured
//     logging; Prometheus metrics are served on the admin API next to /healthz, /readyz and the /v1 status routes.
//
// Quick checklist:
//   - Configure COMICFEED_TELEGRAM_TOKEN, COMICFEED_DB_DRIVER and COMICFEED_DB_DSN, and optionally the archive
//     (COMICFEED_ARCHIVE_*) and Pub/Sub topic (COMICFEED_PUBSUB_*).
//   - Run locally: go run ./cmd/comicfeed run --config config.yaml.
//   - Preview a pass without side effects: comicfeed scan. Deliver for real: comicfeed scan --commit.
package main
