package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rangeatlas/occurrence-cli/internal/config"
	"github.com/rangeatlas/occurrence-cli/internal/mapping"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Runner executes one ingest batch: one source, one or more input files,
// one dataset row recording the load.
type Runner struct {
	store store.Store
	feed  *Feed
	cfg   config.IngestConfig
	log   *zap.Logger
}

func NewRunner(st store.Store, feed *Feed, cfg config.IngestConfig) *Runner {
	return &Runner{
		store: st,
		feed:  feed,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Run ingests the given locations for a named source. The summary is
// returned even when the run aborts partway, alongside the error; rows
// committed before a failure stay committed.
func (r *Runner) Run(ctx context.Context, sourceName, restrictions string, locations []string) (*Summary, error) {
	summary := &Summary{}
	started := time.Now().UTC()

	src, err := r.store.GetSource(ctx, sourceName)
	if err != nil {
		return summary, err
	}

	mappings, err := mapping.Load(r.cfg.MappingsPath)
	if err != nil {
		return summary, err
	}
	fields, err := mappings.For(sourceName)
	if err != nil {
		return summary, err
	}

	files, err := r.feed.Acquire(ctx, locations)
	if err != nil {
		return summary, err
	}

	ds, err := r.store.CreateDataset(ctx, src.ID, restrictions)
	if err != nil {
		return summary, err
	}

	idx, err := BuildIndex(ctx, r.store, src.ID)
	if err != nil {
		return summary, err
	}
	admitter := NewAdmitter(r.store, r.cfg, src, ds, idx)

	runErr := r.processFiles(ctx, files, fields, admitter, summary)

	entry := &store.IngestEntry{
		DatasetID: ds.ID,
		SourceID:  src.ID,
		StartedAt: started,
	}
	if runErr == nil {
		done := time.Now().UTC()
		entry.CompletedAt = &done
	}
	if data, err := json.Marshal(summary); err == nil {
		entry.Summary = data
	}
	if err := r.store.RecordIngest(ctx, entry); err != nil {
		r.log.Warn("failed to record ingest", zap.Error(err))
	}

	r.log.Info("ingest finished",
		zap.String("source", sourceName),
		zap.String("dataset", ds.ID),
		zap.Int("processed", summary.Processed),
		zap.Int("imported", summary.Imported),
		zap.Int("errors", len(summary.Errors)))
	return summary, runErr
}

// processFiles walks files in order, rows in file order. Row failures are
// recorded and skipped; only context cancellation or a store failure that
// makes further progress meaningless aborts the batch.
func (r *Runner) processFiles(ctx context.Context, files []string, fields mapping.Fields, admitter *Admitter, summary *Summary) error {
	for _, file := range files {
		r.log.Info("processing file", zap.String("file", file))
		err := r.feed.Rows(ctx, file, fields, func(row *mapping.Row, shape []byte, n int) error {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "ingest: cancelled")
			}
			res, err := admitter.Admit(ctx, row, shape)
			if err != nil {
				summary.Processed++
				summary.AddError(n, err)
				r.log.Warn("row failed", zap.Int("row", n), zap.Error(err))
				return nil
			}
			summary.Record(res)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
