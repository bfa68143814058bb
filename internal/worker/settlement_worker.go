package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/ports"
	"settleup/internal/settlement"
)

// Summarizer produces settlement summaries and drops cached ones.
type Summarizer interface {
	Summary(ctx context.Context, groupID string) (core.SettlementSummary, error)
	Invalidate(groupID string)
}

// SettlementWorker keeps exported settlement summaries in step with the
// ledger: on every group-changed event and on a periodic full resync.
type SettlementWorker struct {
	groups      ports.GroupStore
	summaries   Summarizer
	exporter    ports.SummaryExporter
	concurrency int
	logger      *log.Logger
}

func NewSettlementWorker(groups ports.GroupStore, summaries Summarizer, exporter ports.SummaryExporter, concurrency int, logger *log.Logger) *SettlementWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SettlementWorker{
		groups:      groups,
		summaries:   summaries,
		exporter:    exporter,
		concurrency: concurrency,
		logger:      logger.WithComponent(log.ComponentWorker),
	}
}

// HandleGroupChanged recomputes and exports the summary of the group named by
// msg. Errors that retrying cannot fix are logged and swallowed so the message
// is acknowledged; anything else is returned and the message requeued.
func (w *SettlementWorker) HandleGroupChanged(ctx context.Context, msg *amqp.GroupChangedMessage) error {
	w.logger.InfoContext(ctx, "Processing group changed message",
		log.FieldMessageID, msg.ID,
		log.FieldGroupID, msg.GroupID,
		log.FieldReason, msg.Reason)

	w.summaries.Invalidate(msg.GroupID)
	err := w.exportGroup(ctx, msg.GroupID)
	if isPermanent(err) {
		w.logger.WarnContext(ctx, "Skipping group that cannot be settled",
			log.FieldGroupID, msg.GroupID,
			log.FieldOperation, log.OpExport,
			log.FieldError, err)
		return nil
	}
	return err
}

// ResyncAll exports every group, at most concurrency at a time. It keeps
// going past individual failures and returns them joined.
func (w *SettlementWorker) ResyncAll(ctx context.Context) error {
	groups, err := w.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		w.logger.InfoContext(ctx, "No groups to resync")
		return nil
	}

	var (
		mu     sync.Mutex
		failed []error
	)
	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, grp := range groups {
		id := grp.ID
		g.Go(func() error {
			if err := w.exportGroup(ctx, id); err != nil {
				log.NewStructuredLogger(w.logger).LogError(ctx, "Failed to resync group", err, log.OpExport,
					log.NewFields().WithGroup(id))
				mu.Lock()
				failed = append(failed, fmt.Errorf("group %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	w.logger.InfoContext(ctx, "Resync completed",
		"total", len(groups),
		"synced", len(groups)-len(failed),
		"errors", len(failed))
	return errors.Join(failed...)
}

// Run consumes group-changed events and resyncs every interval until ctx is
// done. A first resync runs at startup to catch events missed while the
// worker was down. interval <= 0 disables the periodic resync.
func (w *SettlementWorker) Run(ctx context.Context, dial amqp.Dialer, prefetch int, interval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqp.ConsumeWithReconnect(gctx, dial, prefetch, w.HandleGroupChanged, w.logger)
	})

	g.Go(func() error {
		if err := w.ResyncAll(gctx); err != nil && gctx.Err() == nil {
			w.logger.WarnContext(gctx, "Startup resync finished with errors", log.FieldError, err)
		}
		if interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := w.ResyncAll(gctx); err != nil && gctx.Err() == nil {
					w.logger.WarnContext(gctx, "Periodic resync finished with errors", log.FieldError, err)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *SettlementWorker) exportGroup(ctx context.Context, groupID string) error {
	summary, err := w.summaries.Summary(ctx, groupID)
	if err != nil {
		return fmt.Errorf("compute summary: %w", err)
	}
	if err := w.exporter.ExportSummary(ctx, summary); err != nil {
		return fmt.Errorf("export summary: %w", err)
	}
	return nil
}

// isPermanent reports errors caused by the ledger itself rather than by a
// dependency being unavailable.
func isPermanent(err error) bool {
	var inputErr *settlement.InputError
	return errors.Is(err, core.ErrGroupNotFound) || errors.As(err, &inputErr)
}
