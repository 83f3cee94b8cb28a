package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/comicfeed/internal/progress"
)

// PrometheusSink exports delivery runtimes and document sizes.
type PrometheusSink struct {
	running   prometheus.Gauge
	runtime   *prometheus.HistogramVec
	documents *prometheus.CounterVec
	bytes     *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg. Collectors already
// registered by an earlier sink are reused.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PrometheusSink{started: make(map[string]struct{})}
	if s.running, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "comicfeed_deliveries_running",
		Help: "Deliveries currently being rendered or uploaded.",
	})); err != nil {
		return nil, err
	}
	if s.runtime, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comicfeed_delivery_runtime_seconds",
		Help:    "Wall time per finished delivery partitioned by result.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.documents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comicfeed_documents_sent_total",
		Help: "Documents sent partitioned by format and whether a stored handle was reused.",
	}, []string{"format", "cached"})); err != nil {
		return nil, err
	}
	if s.bytes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "comicfeed_document_bytes_total",
		Help: "Rendered document bytes uploaded partitioned by format.",
	}, []string{"format"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageStart:
			if s.track(evt.DeliveryID) {
				s.running.Inc()
			}
		case evt.Stage == progress.StageFormatSent:
			s.documents.WithLabelValues(evt.Format, strconv.FormatBool(evt.Cached)).Inc()
			if evt.Bytes > 0 {
				s.bytes.WithLabelValues(evt.Format).Add(float64(evt.Bytes))
			}
		case evt.Terminal():
			if evt.Dur > 0 {
				s.runtime.WithLabelValues(progress.Result(evt.Stage)).Observe(evt.Dur.Seconds())
			}
			if s.untrack(evt.DeliveryID) {
				s.running.Dec()
			}
		}
	}
	return nil
}

func (s *PrometheusSink) track(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.started[id]; ok {
		return false
	}
	s.started[id] = struct{}{}
	return true
}

func (s *PrometheusSink) untrack(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.started[id]; !ok {
		return false
	}
	delete(s.started, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
