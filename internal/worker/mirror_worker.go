package worker

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/sheets"
)

const (
	defaultSeenSize = 10_000
	defaultSeenTTL  = 24 * time.Hour
)

// MirrorWorker appends the history records carried by ledger events to a
// spreadsheet. Events already mirrored (same id) are skipped so redelivery
// does not duplicate rows.
type MirrorWorker struct {
	sheets sheets.HistoryAppender
	seen   *cache.LRU[time.Time]
	logger *log.Logger
}

func NewMirrorWorker(appender sheets.HistoryAppender, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentWorker)
	}
	return &MirrorWorker{
		sheets: appender,
		seen:   cache.NewLRU[time.Time](defaultSeenSize, defaultSeenTTL),
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent mirrors one event. An error leaves the event unmarked so a
// redelivery is retried.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *core.Event) error {
	if _, ok := w.seen.Get(ev.ID); ok {
		w.logger.InfoContext(ctx, "Skipping already mirrored event",
			log.FieldEventID, ev.ID,
			log.FieldEventType, string(ev.Type))
		return nil
	}

	rows := sheets.RowsFromEvent(*ev)
	if len(rows) == 0 {
		w.seen.Set(ev.ID, time.Now())
		return nil
	}

	ref, err := w.sheets.AppendRows(ctx, rows)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}
	w.seen.Set(ev.ID, time.Now())

	w.logger.InfoContext(ctx, "Mirrored ledger event",
		log.FieldEventID, ev.ID,
		log.FieldEventType, string(ev.Type),
		log.FieldAccountID, ev.AccountID,
		log.FieldOperation, log.OpMirror,
		"rows", len(rows),
		"sheets_ref", ref)

	return nil
}

// CleanupLoop periodically drops expired entries from the seen set until ctx
// is done.
func (w *MirrorWorker) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.seen.CleanExpired(); n > 0 {
				w.logger.DebugContext(ctx, "Cleaned mirrored event ids", "removed", n)
			}
		}
	}
}
