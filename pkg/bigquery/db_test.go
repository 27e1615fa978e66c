package bigquery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	bigquery2 "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const testProjectID = "test-project"

// fakeWarehouse answers job inserts and job polls with the same canned job and
// keeps the configuration and payload of every uploaded load job.
type fakeWarehouse struct {
	mu sync.Mutex

	status     *bigquery2.JobStatus
	statistics *bigquery2.JobStatistics

	datasetStatus int
	createdSets   []string

	loads    []*bigquery2.JobConfigurationLoad
	payloads []string
}

func (f *fakeWarehouse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(r.URL.Path, "/datasets"):
		f.serveDataset(w, r)
		return
	case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/jobs"):
		if err := f.recordUpload(r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	job := &bigquery2.Job{
		JobReference: &bigquery2.JobReference{
			ProjectId: testProjectID,
			JobId:     "job-id",
			Location:  "US",
		},
		Status:     f.status,
		Statistics: f.statistics,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

func (f *fakeWarehouse) serveDataset(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodPost {
		var ds bigquery2.Dataset
		_ = json.NewDecoder(r.Body).Decode(&ds)
		f.createdSets = append(f.createdSets, ds.DatasetReference.DatasetId)
		_ = json.NewEncoder(w).Encode(ds)
		return
	}

	if f.datasetStatus != 0 && f.datasetStatus != http.StatusOK {
		w.WriteHeader(f.datasetStatus)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": f.datasetStatus, "message": "dataset lookup failed"},
		})
		return
	}

	_ = json.NewEncoder(w).Encode(&bigquery2.Dataset{
		DatasetReference: &bigquery2.DatasetReference{ProjectId: testProjectID, DatasetId: "crm"},
	})
}

func (f *fakeWarehouse) recordUpload(r *http.Request) error {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return errors.New("expected a multipart upload, got " + mediaType)
	}

	reader := multipart.NewReader(r.Body, params["boundary"])

	meta, err := reader.NextPart()
	if err != nil {
		return err
	}
	var job bigquery2.Job
	if err := json.NewDecoder(meta).Decode(&job); err != nil {
		return err
	}

	media, err := reader.NextPart()
	if err != nil {
		return err
	}
	payload, err := io.ReadAll(media)
	if err != nil {
		return err
	}

	f.loads = append(f.loads, job.Configuration.Load)
	f.payloads = append(f.payloads, string(payload))
	return nil
}

func newTestDB(t *testing.T, handler http.Handler, cfg *Config) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.Credentials = &google.Credentials{
		ProjectID: testProjectID,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: "some-token",
		}),
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = testProjectID
	}

	db, err := NewDB(context.Background(), cfg, option.WithEndpoint(server.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_NoCredentials(t *testing.T) {
	t.Parallel()

	db, err := NewDB(context.Background(), &Config{Dataset: "crm", Table: "deals"})
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Equal(t, "no credentials provided", err.Error())
}

func TestClient_Destination(t *testing.T) {
	t.Parallel()

	db := newTestDB(t, &fakeWarehouse{}, &Config{Dataset: "crm", Table: "deals"})

	dest := db.Destination()
	assert.Equal(t, TableRef{ProjectID: testProjectID, DatasetID: "crm", TableID: "deals"}, dest)
	assert.Equal(t, "test-project.crm.deals", dest.String())
}

func TestClient_LoadCSV(t *testing.T) {
	t.Parallel()

	warehouse := &fakeWarehouse{
		status: &bigquery2.JobStatus{State: "DONE"},
		statistics: &bigquery2.JobStatistics{
			Load: &bigquery2.JobStatistics3{OutputRows: 2},
		},
	}
	db := newTestDB(t, warehouse, &Config{
		Dataset:  "crm",
		Table:    "deals",
		Location: "US",
		Labels:   map[string]string{"team": "sales"},
	})

	csv := "\"ID\";\"TITLE\"\n\"1\";\"A\"\n\"2\";\n"
	result, err := db.LoadCSV(context.Background(), db.Destination(), strings.NewReader(csv), LoadOptions{
		Delimiter:     ';',
		MaxBadRecords: 50,
		Labels:        map[string]string{"run": "abc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-id", result.JobID)
	assert.Equal(t, int64(2), result.OutputRows)
	assert.Equal(t, "test-project.crm.deals", result.Table.String())

	require.Len(t, warehouse.loads, 1)
	load := warehouse.loads[0]
	assert.Equal(t, "WRITE_TRUNCATE", load.WriteDisposition)
	assert.Equal(t, "CREATE_IF_NEEDED", load.CreateDisposition)
	assert.Equal(t, "CSV", load.SourceFormat)
	assert.Equal(t, ";", load.FieldDelimiter)
	assert.Equal(t, int64(50), load.MaxBadRecords)
	assert.Equal(t, int64(1), load.SkipLeadingRows)
	assert.True(t, load.Autodetect)
	assert.Equal(t, "crm", load.DestinationTable.DatasetId)
	assert.Equal(t, "deals", load.DestinationTable.TableId)
	assert.Equal(t, csv, warehouse.payloads[0])
}

func TestClient_LoadCSV_TooManyBadRecords(t *testing.T) {
	t.Parallel()

	warehouse := &fakeWarehouse{
		status: &bigquery2.JobStatus{
			State: "DONE",
			ErrorResult: &bigquery2.ErrorProto{
				Reason:  "invalid",
				Message: "Error while reading data, error message: CSV processing encountered too many errors, giving up. Rows: 51; errors: 51; max bad: 50",
			},
			Errors: []*bigquery2.ErrorProto{
				{Reason: "invalid", Message: "Error while reading data, error message: CSV processing encountered too many errors, giving up. Rows: 51; errors: 51; max bad: 50"},
				{Reason: "invalid", Message: "Error while reading data, error message: Too many values in row starting at position: 120."},
			},
		},
		statistics: &bigquery2.JobStatistics{
			Load: &bigquery2.JobStatistics3{BadRecords: 51},
		},
	}
	db := newTestDB(t, warehouse, &Config{Dataset: "crm", Table: "deals"})

	result, err := db.LoadCSV(context.Background(), db.Destination(), strings.NewReader("\"A\"\n\"1\";\"2\"\n"), LoadOptions{
		MaxBadRecords: 50,
	})
	require.Error(t, err)
	assert.Nil(t, result)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "job-id", loadErr.JobID)
	assert.Contains(t, err.Error(), "load job job-id failed")
	assert.Contains(t, err.Error(), "too many errors")
	assert.Contains(t, err.Error(), "Too many values in row")

	var bqErr *bigquery.Error
	require.ErrorAs(t, err, &bqErr)
	assert.Equal(t, "invalid", bqErr.Reason)

	require.Len(t, warehouse.loads, 1)
	assert.Equal(t, ";", warehouse.loads[0].FieldDelimiter)
}

func TestClient_CreateDataSetIfNotExist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		wantCreated []string
		wantErr     bool
	}{
		{
			name:   "dataset exists",
			status: http.StatusOK,
		},
		{
			name:        "dataset missing is created",
			status:      http.StatusNotFound,
			wantCreated: []string{"crm"},
		},
		{
			name:    "other errors are returned",
			status:  http.StatusForbidden,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			warehouse := &fakeWarehouse{datasetStatus: tt.status}
			db := newTestDB(t, warehouse, &Config{Dataset: "crm", Table: "deals"})

			err := db.CreateDataSetIfNotExist(context.Background(), db.Destination())
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, warehouse.createdSets)
		})
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain")
	assert.Equal(t, plain, formatError(plain))

	notFound := &googleapi.Error{Code: 404, Message: "Not found: Dataset test-project:crm"}
	assert.Equal(t, "Not found: Dataset test-project:crm", formatError(notFound).Error())

	server := &googleapi.Error{Code: 500, Message: "backend"}
	assert.Equal(t, server, formatError(server))
}

func TestMergeLabels(t *testing.T) {
	t.Parallel()

	assert.Nil(t, mergeLabels(nil, map[string]string{}))
	assert.Equal(t,
		map[string]string{"a": "1", "b": "3"},
		mergeLabels(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"}),
	)
}

func TestLoadError_Error(t *testing.T) {
	t.Parallel()

	err := &LoadError{
		JobID: "j1",
		Err:   &bigquery.Error{Reason: "invalid", Message: "giving up"},
		Errors: []*bigquery.Error{
			{Message: "giving up"},
			nil,
			{Message: "row 3 bad"},
		},
	}
	assert.Equal(t, "load job j1 failed: giving up (row 3 bad)", err.Error())
}
