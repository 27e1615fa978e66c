// Package job runs the deal export end to end: metadata, collection,
// transformation, CSV serialization and the warehouse load, one after another.
package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bruin-data/dealsync/pkg/bigquery"
	"github.com/bruin-data/dealsync/pkg/bitrix"
	"github.com/bruin-data/dealsync/pkg/dataset"
	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/bruin-data/dealsync/pkg/logger"
	"github.com/bruin-data/dealsync/pkg/transform"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const SuccessMessage = "ETL completed successfully"

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	// ErrNoDeals is returned when nothing was collected; the destination table
	// still holds the previous export.
	ErrNoDeals = errors.New("no deals collected, table left unchanged")
)

type CRM interface {
	FetchMetadata(ctx context.Context) bitrix.Metadata
	CollectDeals(ctx context.Context) ([]*deal.Record, bitrix.CollectStats, error)
}

type Warehouse interface {
	Destination() bigquery.TableRef
	CreateDataSetIfNotExist(ctx context.Context, dest bigquery.TableRef) error
	LoadCSV(ctx context.Context, dest bigquery.TableRef, r io.Reader, opts bigquery.LoadOptions) (*bigquery.LoadResult, error)
}

type Options struct {
	StageField    string
	CreateDataset bool
	MaxBadRecords int64
	Delimiter     rune
}

type Summary struct {
	RunID        string               `json:"run_id"`
	Records      int                  `json:"records"`
	Pages        int                  `json:"pages"`
	StoppedEarly bool                 `json:"stopped_early"`
	Columns      []string             `json:"columns"`
	CSVBytes     int                  `json:"csv_bytes"`
	Destination  bigquery.TableRef    `json:"destination"`
	Load         *bigquery.LoadResult `json:"load,omitempty"`
	DryRun       bool                 `json:"dry_run"`
	OutputPath   string               `json:"output_path,omitempty"`
	Duration     time.Duration        `json:"duration"`
}

type Job struct {
	crm       CRM
	warehouse Warehouse
	fs        afero.Fs
	logger    logger.Logger
	opts      Options

	running sync.Mutex
}

func New(crm CRM, warehouse Warehouse, fs afero.Fs, log logger.Logger, opts Options) *Job {
	if opts.Delimiter == 0 {
		opts.Delimiter = dataset.DefaultDelimiter
	}
	if opts.StageField == "" {
		opts.StageField = transform.DefaultStageField
	}

	return &Job{
		crm:       crm,
		warehouse: warehouse,
		fs:        fs,
		logger:    log,
		opts:      opts,
	}
}

// Handle is the trigger entry point: it runs the export for the given event
// and reports the outcome as text.
func (j *Job) Handle(ctx context.Context, event interface{}) string {
	msg, _, _ := j.Invoke(ctx, event)
	return msg
}

// Invoke is Handle with the summary and error kept for callers that need
// more than the message.
func (j *Job) Invoke(ctx context.Context, event interface{}) (msg string, summary *Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorw("run panicked", "panic", r, "stack", string(debug.Stack()))
			summary = nil
			err = errors.Errorf("run panicked: %v", r)
			msg = errorMessage(err)
		}
	}()

	ev, err := DecodeEvent(event)
	if err != nil {
		j.logger.Errorw("invalid trigger event", "error", err)
		return errorMessage(err), nil, err
	}

	summary, err = j.Run(ctx, ev)
	if err != nil {
		j.logger.Errorw("run failed", "error", err)
		return errorMessage(err), summary, err
	}

	return SuccessMessage, summary, nil
}

func errorMessage(err error) string {
	return fmt.Sprintf("Error: %s", err)
}

// Run executes one export. Only one run may be in progress per Job.
func (j *Job) Run(ctx context.Context, ev TriggerEvent) (*Summary, error) {
	if !j.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer j.running.Unlock()

	start := time.Now()
	summary := &Summary{
		RunID:  uuid.NewString(),
		DryRun: ev.DryRun,
	}
	j.logger.Infow("starting run", "run_id", summary.RunID, "dry_run", ev.DryRun)

	meta := j.crm.FetchMetadata(ctx)

	records, stats, err := j.crm.CollectDeals(ctx)
	if err != nil {
		return summary, errors.Wrap(err, "failed to collect deals")
	}
	summary.Records = len(records)
	summary.Pages = stats.Pages
	summary.StoppedEarly = stats.StoppedEarly
	j.logger.Infof("total deals collected: %d", len(records))

	ds, err := transform.Transform(records, meta.Fields, meta.Stages, transform.Options{StageField: j.opts.StageField})
	if err != nil {
		return summary, err
	}
	summary.Columns = ds.ColumnNames()
	j.logger.Debugw("transformed deals", "columns", summary.Columns)

	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, ds, j.opts.Delimiter); err != nil {
		return summary, errors.Wrap(err, "failed to serialize deals")
	}
	summary.CSVBytes = buf.Len()

	if ev.DryRun {
		if ev.Output != "" {
			if err := afero.WriteFile(j.fs, ev.Output, buf.Bytes(), 0o644); err != nil {
				return summary, errors.Wrapf(err, "failed to write csv to %s", ev.Output)
			}
			summary.OutputPath = ev.Output
		}
		j.logger.Infow("dry run finished, nothing loaded", "bytes", summary.CSVBytes, "output", ev.Output)
		summary.Duration = time.Since(start)
		return summary, nil
	}

	if ds.Len() == 0 {
		if stats.StopReason != nil {
			return summary, fmt.Errorf("%w: %s", ErrNoDeals, stats.StopReason)
		}
		return summary, ErrNoDeals
	}

	dest := j.warehouse.Destination()
	summary.Destination = dest

	if j.opts.CreateDataset {
		if err := j.warehouse.CreateDataSetIfNotExist(ctx, dest); err != nil {
			return summary, err
		}
	}

	labels := map[string]string{"dealsync_run": summary.RunID}
	for k, v := range ev.Labels {
		labels[k] = v
	}

	result, err := j.warehouse.LoadCSV(ctx, dest, &buf, bigquery.LoadOptions{
		Delimiter:     j.opts.Delimiter,
		MaxBadRecords: j.opts.MaxBadRecords,
		Labels:        labels,
	})
	if err != nil {
		return summary, err
	}
	summary.Load = result
	summary.Duration = time.Since(start)

	j.logger.Infow("deals loaded", "table", dest.String(), "job_id", result.JobID, "rows", result.OutputRows)
	return summary, nil
}
