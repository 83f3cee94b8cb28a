package scanner

import (
	"time"

	"go.uber.org/multierr"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Title outcomes counted in a Report and exported as metrics.
const (
	OutcomeUnrouted     = "unrouted"
	OutcomeNotUpdated   = "not_updated"
	OutcomeBootstrapped = "bootstrapped"
	OutcomeUpdated      = "updated"
	OutcomeUnchanged    = "unchanged"
	OutcomeFailed       = "failed"
)

// TitleUpdate lists the new chapters of one title, oldest first.
type TitleUpdate struct {
	Title      feed.Title     `json:"title"`
	Chapters   []feed.Chapter `json:"chapters"`
	Recipients []string       `json:"recipients"`
}

// Report summarizes one scan pass. Err aggregates every recoverable error.
type Report struct {
	Pass         uint64        `json:"pass"`
	DryRun       bool          `json:"dry_run"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Titles       int           `json:"titles"`
	Unrouted     int           `json:"unrouted"`
	NotUpdated   int           `json:"not_updated"`
	Bootstrapped int           `json:"bootstrapped"`
	Updated      int           `json:"updated"`
	Unchanged    int           `json:"unchanged"`
	Failed       int           `json:"failed"`
	NewChapters  int           `json:"new_chapters"`
	Deliveries   int           `json:"deliveries"`
	Updates      []TitleUpdate `json:"updates,omitempty"`
	Err          error         `json:"-"`
}

// Errors renders Err for JSON consumers.
func (r Report) Errors() []string {
	if r.Err == nil {
		return nil
	}
	return splitErrors(r.Err)
}

func (r *Report) count(outcome string) {
	switch outcome {
	case OutcomeUnrouted:
		r.Unrouted++
	case OutcomeNotUpdated:
		r.NotUpdated++
	case OutcomeBootstrapped:
		r.Bootstrapped++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeFailed:
		r.Failed++
	}
}

func splitErrors(err error) []string {
	errs := multierr.Errors(err)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
