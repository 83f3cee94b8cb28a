package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/progress"
	"github.com/JakeFAU/comicfeed/internal/scanner"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	storeTimeout     = 5 * time.Second
	refreshTimeout   = 2 * time.Minute
)

type reportDTO struct {
	Pass         uint64    `json:"pass"`
	Started      time.Time `json:"started"`
	DurationMS   int64     `json:"duration_ms"`
	Titles       int       `json:"titles"`
	Unrouted     int       `json:"unrouted"`
	NotUpdated   int       `json:"not_updated"`
	Bootstrapped int       `json:"bootstrapped"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	Failed       int       `json:"failed"`
	NewChapters  int       `json:"new_chapters"`
	Deliveries   int       `json:"deliveries"`
	Errors       []string  `json:"errors,omitempty"`
}

type queueDTO struct {
	Pending int `json:"pending"`
	Workers int `json:"workers"`
}

type titleDTO struct {
	TitleURL   string `json:"title_url"`
	Name       string `json:"name,omitempty"`
	ChapterURL string `json:"chapter_url"`
}

// status handles GET /v1/status. The report is omitted until the first pass finishes.
func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{}
	if s.queue != nil {
		body["queue"] = queueDTO{Pending: s.queue.Pending(), Workers: s.queue.Workers()}
	}
	if s.reporter != nil {
		if report, ok := s.reporter.LastReport(); ok {
			body["last_scan"] = reportDTO{
				Pass:         report.Pass,
				Started:      report.Started,
				DurationMS:   report.Duration.Milliseconds(),
				Titles:       report.Titles,
				Unrouted:     report.Unrouted,
				NotUpdated:   report.NotUpdated,
				Bootstrapped: report.Bootstrapped,
				Updated:      report.Updated,
				Unchanged:    report.Unchanged,
				Failed:       report.Failed,
				NewChapters:  report.NewChapters,
				Deliveries:   report.Deliveries,
				Errors:       report.Errors(),
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// listSubscriptions handles GET /v1/subscriptions?recipient=&limit=&offset=.
func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	var subs []feed.Subscription
	if recipient := strings.TrimSpace(r.URL.Query().Get("recipient")); recipient != "" {
		subs, err = s.store.SubscriptionsOf(ctx, recipient)
	} else {
		subs, err = s.store.Subscriptions(ctx)
	}
	if err != nil {
		s.logger.Error("list subscriptions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].TitleURL != subs[j].TitleURL {
			return subs[i].TitleURL < subs[j].TitleURL
		}
		return subs[i].RecipientID < subs[j].RecipientID
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         len(subs),
		"subscriptions": window(subs, limit, offset),
	})
}

// listDeliveries handles GET /v1/deliveries?limit=&result=.
func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records := []progress.Record{}
	if s.history != nil {
		records = s.history.Recent(0)
	}
	if result := strings.TrimSpace(r.URL.Query().Get("result")); result != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if rec.Result == result {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(records),
		"deliveries": window(records, limit, 0),
	})
}

// listTitles handles GET /v1/titles?limit=&offset=, joining watermarks with names.
func (s *Server) listTitles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	lasts, err := s.store.LastChapters(ctx)
	if err != nil {
		s.logger.Error("list last chapters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list titles")
		return
	}
	names, err := s.store.TitleNames(ctx)
	if err != nil {
		s.logger.Error("list title names failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list titles")
		return
	}
	byURL := make(map[string]string, len(names))
	for _, n := range names {
		byURL[n.TitleURL] = n.Name
	}
	titles := make([]titleDTO, 0, len(lasts))
	for _, l := range lasts {
		titles = append(titles, titleDTO{TitleURL: l.TitleURL, Name: byURL[l.TitleURL], ChapterURL: l.ChapterURL})
	}
	sort.Slice(titles, func(i, j int) bool { return titles[i].TitleURL < titles[j].TitleURL })
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(titles),
		"titles": window(titles, limit, offset),
	})
}

type refreshRequest struct {
	TitleURL string `json:"title_url"`
}

// refreshTitle handles POST /v1/titles/refresh with {"title_url": "..."}.
func (s *Server) refreshTitle(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := url.ParseRequestURI(req.TitleURL); err != nil {
		writeError(w, http.StatusBadRequest, "title_url must be an absolute URL")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	last, err := s.refresher.Refresh(ctx, req.TitleURL)
	switch {
	case errors.Is(err, feed.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "no source handles this title")
	case errors.Is(err, scanner.ErrNoChapters):
		writeError(w, http.StatusConflict, "title has no chapters")
	case err != nil:
		s.logger.Warn("refresh failed", zap.String("title_url", req.TitleURL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "refresh failed")
	default:
		writeJSON(w, http.StatusOK, titleDTO{TitleURL: last.TitleURL, ChapterURL: last.ChapterURL})
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
