package bulkimport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClient_Submit(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody createRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &gotBody))
		w.Write([]byte(`{"code":0,"data":{"jobId":"job-42"}}`))
	}))
	defer server.Close()

	client, err := NewRESTClient(Config{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	jobID, err := client.Submit(context.Background(), "articles",
		[]string{"bucket/run/articles/segment-00000.parquet", "bucket/run/articles/segment-00001.parquet"})
	require.NoError(t, err)

	assert.Equal(t, "job-42", jobID)
	assert.Equal(t, "/v2/vectordb/jobs/import/create", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "articles", gotBody.CollectionName)
	assert.Equal(t, [][]string{
		{"bucket/run/articles/segment-00000.parquet"},
		{"bucket/run/articles/segment-00001.parquet"},
	}, gotBody.Files)
}

func TestRESTClient_SubmitRejectsEmptyFiles(t *testing.T) {
	client, err := NewRESTClient(Config{BaseURL: "http://localhost:19530"})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), "articles", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImportJob)
}

func TestRESTClient_Describe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/vectordb/jobs/import/describe", r.URL.Path)
		w.Write([]byte(`{
			"code": 0,
			"data": {
				"jobId": "job-42",
				"collectionName": "articles",
				"state": "Importing",
				"progress": 60,
				"importedRows": 600,
				"totalRows": 1000,
				"details": [
					{"fileName": "segment-00000.parquet", "state": "Completed", "importedRows": 600},
					{"fileName": "segment-00001.parquet", "state": "Importing"}
				]
			}
		}`))
	}))
	defer server.Close()

	client, err := NewRESTClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	status, err := client.Describe(context.Background(), "job-42")
	require.NoError(t, err)

	assert.Equal(t, "job-42", status.JobID)
	assert.Equal(t, StateImporting, status.State)
	assert.Equal(t, 60, status.Progress)
	assert.Equal(t, int64(600), status.ImportedRows)
	assert.Equal(t, int64(1000), status.TotalRows)
	require.Len(t, status.Files, 2)
	assert.Equal(t, StateCompleted, status.Files[0].State)
	assert.False(t, status.State.Terminal())
}

func TestRESTClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1100,"message":"collection not found"}`))
	}))
	defer server.Close()

	client, err := NewRESTClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Describe(context.Background(), "job-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImportJob)
	assert.Contains(t, err.Error(), "collection not found")
}

func TestRESTClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewRESTClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Describe(context.Background(), "job-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImportJob)
	assert.Contains(t, err.Error(), "status 502")
}

// scriptedClient returns a fixed sequence of statuses from Describe.
type scriptedClient struct {
	statuses []JobStatus
	calls    int
}

func (s *scriptedClient) Submit(ctx context.Context, collection string, files []string) (string, error) {
	return "job-1", nil
}

func (s *scriptedClient) Describe(ctx context.Context, jobID string) (JobStatus, error) {
	status := s.statuses[s.calls]
	if s.calls < len(s.statuses)-1 {
		s.calls++
	}
	return status, nil
}

func TestPoller_WaitsUntilCompleted(t *testing.T) {
	client := &scriptedClient{statuses: []JobStatus{
		{JobID: "job-1", State: StatePending},
		{JobID: "job-1", State: StateImporting, Progress: 50},
		{JobID: "job-1", State: StateCompleted, Progress: 100, ImportedRows: 1000},
	}}

	poller := NewPoller(client, time.Millisecond, nil)
	status, err := poller.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, int64(1000), status.ImportedRows)
	assert.Equal(t, 2, client.calls)
}

func TestPoller_FailedJobCarriesFileDetail(t *testing.T) {
	client := &scriptedClient{statuses: []JobStatus{
		{
			JobID:  "job-1",
			State:  StateFailed,
			Reason: "schema mismatch",
			Files: []FileStatus{
				{Path: "segment-00001.parquet", State: StateFailed, Reason: "missing field vector"},
			},
		},
	}}

	poller := NewPoller(client, time.Millisecond, nil)
	_, err := poller.Wait(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImportJob)
	assert.Contains(t, err.Error(), "schema mismatch")
	assert.Contains(t, err.Error(), "segment-00001.parquet: missing field vector")
}

func TestPoller_Cancellation(t *testing.T) {
	client := &scriptedClient{statuses: []JobStatus{
		{JobID: "job-1", State: StatePending},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	poller := NewPoller(client, time.Hour, nil)
	_, err := poller.Wait(ctx, "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
