package bigquery

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var scopes = []string{
	bigquery.Scope,
	"https://www.googleapis.com/auth/cloud-platform",
}

const jobIDPrefix = "dealsync_"

// LoadOptions holds the per-job settings of a CSV load.
type LoadOptions struct {
	Delimiter     rune
	MaxBadRecords int64
	// Labels are attached to the load job in addition to the configured ones.
	Labels map[string]string
}

type LoadResult struct {
	JobID      string   `json:"job_id"`
	Table      TableRef `json:"table"`
	OutputRows int64    `json:"output_rows"`
}

// LoadError is returned when the warehouse accepted the job but the job itself
// failed, e.g. because more rows than allowed could not be parsed.
type LoadError struct {
	JobID  string
	Err    error
	Errors []*bigquery.Error
}

func (e *LoadError) Error() string {
	first := errorMessage(e.Err)
	msg := fmt.Sprintf("load job %s failed: %s", e.JobID, first)

	details := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		if item == nil || item.Message == first {
			continue
		}
		details = append(details, item.Message)
		if len(details) == 5 {
			break
		}
	}
	if len(details) > 0 {
		msg += " (" + strings.Join(details, "; ") + ")"
	}

	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func errorMessage(err error) string {
	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) && bqErr.Message != "" {
		return bqErr.Message
	}
	return err.Error()
}

type Client struct {
	client *bigquery.Client
	config *Config
}

// NewDB creates a client from the configured service account. Extra options
// are appended after the credentials, which lets callers point the client at
// another endpoint.
func NewDB(ctx context.Context, c *Config, extra ...option.ClientOption) (*Client, error) {
	options := []option.ClientOption{
		option.WithScopes(scopes...),
	}

	switch {
	case c.CredentialsJSON != "":
		options = append(options, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFilePath != "":
		options = append(options, option.WithCredentialsFile(c.CredentialsFilePath))
	case c.Credentials != nil:
		options = append(options, option.WithCredentials(c.Credentials))
	default:
		return nil, errors.New("no credentials provided")
	}
	options = append(options, extra...)

	projectID := c.ProjectID
	if projectID == "" {
		projectID = bigquery.DetectProjectID
	}

	client, err := bigquery.NewClient(ctx, projectID, options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigquery client")
	}

	if c.Location != "" {
		client.Location = c.Location
	}

	return &Client{
		client: client,
		config: c,
	}, nil
}

func (d *Client) ProjectID() string {
	return d.client.Project()
}

func (d *Client) Close() error {
	return d.client.Close()
}

// Destination is the configured table in the client's project.
func (d *Client) Destination() TableRef {
	return TableRef{
		ProjectID: d.ProjectID(),
		DatasetID: d.config.Dataset,
		TableID:   d.config.Table,
	}
}

func formatError(err error) error {
	var googleError *googleapi.Error
	if !errors.As(err, &googleError) {
		return err
	}

	if googleError.Code == 404 || googleError.Code == 400 {
		return fmt.Errorf("%s", googleError.Message)
	}

	return googleError
}

// CreateDataSetIfNotExist creates the destination dataset when it is missing.
func (d *Client) CreateDataSetIfNotExist(ctx context.Context, dest TableRef) error {
	dataset := d.client.DatasetInProject(dest.ProjectID, dest.DatasetID)
	_, err := dataset.Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errors.Wrapf(err, "failed to fetch metadata of dataset '%s'", dest.DatasetID)
	}
	if apiErr.Code != 404 {
		return errors.Errorf("google api returned error, http status: %d, body: %s", apiErr.Code, apiErr.Body)
	}

	if err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: d.config.Location}); err != nil {
		var createAPIErr *googleapi.Error
		if errors.As(err, &createAPIErr) && createAPIErr.Code == 409 {
			// created by someone else in the meantime
			return nil
		}
		return errors.Wrapf(err, "failed to create dataset '%s'", dest.DatasetID)
	}

	return nil
}

// LoadCSV replaces the contents of dest with the CSV read from r and waits for
// the load job to finish. The first line of the input is treated as a header
// and column types are detected by the warehouse.
func (d *Client) LoadCSV(ctx context.Context, dest TableRef, r io.Reader, opts LoadOptions) (*LoadResult, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ';'
	}

	source := bigquery.NewReaderSource(r)
	source.SourceFormat = bigquery.CSV
	source.FieldDelimiter = string(opts.Delimiter)
	source.SkipLeadingRows = 1
	source.AutoDetect = true
	source.MaxBadRecords = opts.MaxBadRecords

	table := d.client.DatasetInProject(dest.ProjectID, dest.DatasetID).Table(dest.TableID)
	loader := table.LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteTruncate
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.JobID = jobIDPrefix + uuid.NewString()
	loader.Location = d.config.Location
	loader.Labels = mergeLabels(d.config.Labels, opts.Labels)

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, errors.Wrapf(formatError(err), "failed to start load job for table '%s'", dest)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, errors.Wrapf(formatError(err), "failed to wait for load job %s", job.ID())
	}

	if err := status.Err(); err != nil {
		return nil, &LoadError{JobID: job.ID(), Err: err, Errors: status.Errors}
	}

	result := &LoadResult{
		JobID: job.ID(),
		Table: dest,
	}
	if status.Statistics != nil {
		if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.OutputRows = stats.OutputRows
		}
	}

	return result, nil
}

func mergeLabels(sets ...map[string]string) map[string]string {
	var out map[string]string
	for _, set := range sets {
		for k, v := range set {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}
