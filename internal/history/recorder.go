// Package history records finished rides for the history tab.
package history

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
	"github.com/example/ride-passenger/internal/storage"
)

// Publisher journals entries off-box; satisfied by *ingest.KafkaProducer.
type Publisher interface {
	PublishHistory(ctx context.Context, e models.HistoryEntry) error
}

// Recorder saves every terminal ride to the local store and, when a
// journal is configured, publishes it there too. A journal failure does
// not undo the local save.
type Recorder struct {
	store   storage.HistoryStore
	journal Publisher
	logger  *slog.Logger
}

func NewRecorder(store storage.HistoryStore, journal Publisher, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, journal: journal, logger: logging.Component(logger, "history")}
}

func (r *Recorder) Record(ctx context.Context, e models.HistoryEntry) error {
	var errList []error
	if err := r.store.SaveEntry(ctx, e); err != nil {
		observability.HistoryRecorded.WithLabelValues("store", "error").Inc()
		errList = append(errList, err)
	} else {
		observability.HistoryRecorded.WithLabelValues("store", "ok").Inc()
	}
	if r.journal != nil {
		if err := r.journal.PublishHistory(ctx, e); err != nil {
			observability.HistoryRecorded.WithLabelValues("journal", "error").Inc()
			r.logger.Warn("journal publish failed", "ride_id", e.RideID, "error", err)
			errList = append(errList, err)
		} else {
			observability.HistoryRecorded.WithLabelValues("journal", "ok").Inc()
		}
	}
	if len(errList) == 0 {
		r.logger.Info("ride recorded", "ride_id", e.RideID, "status", e.Status)
	}
	return errors.Join(errList...)
}

// List returns the passenger's finished rides, newest first.
func (r *Recorder) List(ctx context.Context, passengerID string, limit int) ([]models.HistoryEntry, error) {
	return r.store.ListEntries(ctx, passengerID, limit)
}
