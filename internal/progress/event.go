package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a milestone in the life of one delivery.
type Stage string

// Delivery stages. Sent, Failed and Skipped are terminal.
const (
	StageStart      Stage = "DELIVERY_START"
	StageFormatSent Stage = "FORMAT_SENT"
	StageSent       Stage = "DELIVERY_SENT"
	StageFailed     Stage = "DELIVERY_FAILED"
	StageSkipped    Stage = "DELIVERY_SKIPPED"
)

// Event is one milestone of a delivery.
type Event struct {
	// DeliveryID ties together the events of one attempt.
	DeliveryID string
	TS         time.Time
	Stage      Stage
	Origin     string
	Recipient  string
	Source     string
	ChapterURL string
	// Chapter is the display name.
	Chapter string
	// Format, Bytes and Cached describe a FORMAT_SENT event. Cached documents
	// were re-sent by platform handle and carry no bytes.
	Format string
	Bytes  int64
	Cached bool
	// Dur is the render plus upload time on FORMAT_SENT and the whole delivery
	// on terminal stages.
	Dur time.Duration
	// Note holds the skip reason or the error text.
	Note string
}

// At returns a copy of e moved to another stage and time.
func (e Event) At(stage Stage, ts time.Time) Event {
	e.Stage = stage
	e.TS = ts
	return e
}

// Terminal reports whether no further events follow for this delivery.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageSent, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.DeliveryID == "" {
		return errors.New("delivery id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageStart, StageSent, StageFailed, StageSkipped:
	case StageFormatSent:
		if e.Format == "" {
			return errors.New("format sent requires format")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Bytes < 0 {
		return errors.New("duration and bytes must be >= 0")
	}
	return nil
}

// Record summarizes a finished delivery.
type Record struct {
	DeliveryID string        `json:"delivery_id"`
	Origin     string        `json:"origin"`
	Recipient  string        `json:"recipient"`
	Source     string        `json:"source"`
	Chapter    string        `json:"chapter"`
	ChapterURL string        `json:"chapter_url"`
	Result     string        `json:"result"`
	Note       string        `json:"note,omitempty"`
	Formats    []string      `json:"formats,omitempty"`
	Cached     int           `json:"cached"`
	Bytes      int64         `json:"bytes"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Duration   time.Duration `json:"duration"`
}

// Result labels for terminal stages.
func Result(stage Stage) string {
	switch stage {
	case StageSent:
		return "sent"
	case StageFailed:
		return "failed"
	case StageSkipped:
		return "skipped"
	default:
		return "pending"
	}
}
