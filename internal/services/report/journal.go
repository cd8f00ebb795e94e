package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/events"
)

// Appender stores records durably. *journal.WALStore implements it.
type Appender interface {
	Append(r events.Record) (uint64, error)
}

// Journal appends every record except single order attempts to a store.
type Journal struct {
	store  Appender
	logger *zap.Logger
}

func NewJournal(store Appender, logger *zap.Logger) *Journal {
	return &Journal{store: store, logger: logger}
}

func (j *Journal) Report(_ context.Context, r events.Record) {
	if r.Kind == events.KindOrderAttempt {
		return
	}
	if _, err := j.store.Append(r); err != nil {
		j.logger.Error("failed to journal record",
			zap.String("record", string(r.Kind)),
			zap.String("account", r.Source.Account),
			zap.Error(err))
	}
}
