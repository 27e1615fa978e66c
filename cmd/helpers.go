package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/bruin-data/dealsync/pkg/bigquery"
	"github.com/bruin-data/dealsync/pkg/bitrix"
	"github.com/bruin-data/dealsync/pkg/config"
	"github.com/bruin-data/dealsync/pkg/job"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Summary *job.Summary `json:"summary,omitempty"`
}

func makeLogger(isDebug bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if isDebug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			MessageKey:     "msg",
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return logger.Sugar()
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "the path to the configuration file",
		Value:   config.DefaultFileName,
		EnvVars: []string{configEnvVar},
	}
}

func loadConfig(fs afero.Fs, path string) (*config.Config, error) {
	cfg, err := config.LoadFromFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load the configuration, run `dealsync init` to create one")
	}

	return cfg, nil
}

// buildJob wires the CRM client and, unless withoutWarehouse is set, the
// BigQuery client. The returned function releases the warehouse client.
func buildJob(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, withoutWarehouse bool) (*job.Job, func(), error) {
	crm, err := bitrix.NewClient(cfg.CRM, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := job.Options{
		StageField:    cfg.CRM.StageField,
		CreateDataset: cfg.BigQuery.CreateDataset,
		MaxBadRecords: cfg.BigQuery.BadRecordLimit(),
	}

	if withoutWarehouse {
		return job.New(crm, nil, fs, logger, opts), func() {}, nil
	}

	db, err := bigquery.NewDB(ctx, &cfg.BigQuery)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		if err := db.Close(); err != nil {
			logger.Debugf("failed to close the bigquery client: %v", err)
		}
	}

	return job.New(crm, db, fs, logger, opts), closer, nil
}

func RecoverFromPanic() {
	if err := recover(); err != nil {
		log.Println("=======================================")
		log.Println("dealsync encountered an unexpected error.")
		log.Println(err)
		log.Println("=======================================")
		b := bufio.NewScanner(bytes.NewBuffer(debug.Stack()))
		for b.Scan() {
			log.Println(b.Text())
		}
		os.Exit(1)
	}
}

func printErrorJSON(err error) {
	errResponse := ErrorResponse{Error: "something went wrong"}
	if err != nil {
		errResponse.Error = err.Error()
	}

	js, err := json.Marshal(errResponse)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(js))
}

func printErrorForOutput(output string, err error) {
	if output == "json" {
		printErrorJSON(err)
		return
	}
	errorPrinter.Printf("%v\n", err)
}

func printResult(w io.Writer, output string, msg string, summary *job.Summary, err error) {
	if output == "json" {
		if err != nil {
			printErrorJSON(err)
			return
		}
		js, mErr := json.Marshal(SuccessResponse{Status: "success", Message: msg, Summary: summary})
		if mErr != nil {
			fmt.Fprintln(w, mErr)
			return
		}
		fmt.Fprintln(w, string(js))
		return
	}

	if summary != nil {
		renderSummary(w, summary)
	}

	if err != nil {
		errorPrinter.Fprintln(w, msg)
		return
	}
	successPrinter.Fprintln(w, msg)
}

func renderSummary(w io.Writer, s *job.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendRow(table.Row{"Run", s.RunID})
	t.AppendRow(table.Row{"Deals", s.Records})
	t.AppendRow(table.Row{"Pages", s.Pages})
	if s.StoppedEarly {
		t.AppendRow(table.Row{"Stopped early", "yes"})
	}
	t.AppendRow(table.Row{"Columns", len(s.Columns)})
	t.AppendRow(table.Row{"CSV size", fmt.Sprintf("%d bytes", s.CSVBytes)})

	switch {
	case s.DryRun:
		output := s.OutputPath
		if output == "" {
			output = faint("not written")
		}
		t.AppendRow(table.Row{"Dry run output", output})
	case s.Load != nil:
		t.AppendRow(table.Row{"Table", s.Load.Table.String()})
		t.AppendRow(table.Row{"Load job", s.Load.JobID})
		t.AppendRow(table.Row{"Rows loaded", s.Load.OutputRows})
	}

	if s.Duration > 0 {
		t.AppendRow(table.Row{"Duration", s.Duration.Round(time.Millisecond).String()})
	}

	t.Render()
}

func renderMapping(w io.Writer, header string, mapping map[string]string) {
	keys := lo.Keys(mapping)
	slices.Sort(keys)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", header})
	for _, k := range keys {
		t.AppendRow(table.Row{k, mapping[k]})
	}
	t.SetCaption("%d %s", len(keys), strings.ToLower(header)+"s")
	t.Render()
}

func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("label must be of form key=value, got '%s'", pair)
		}
		labels[key] = strings.TrimSpace(value)
	}

	return labels, nil
}
