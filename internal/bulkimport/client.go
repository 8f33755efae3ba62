package bulkimport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// Config holds settings for the REST import client.
type Config struct {
	// BaseURL is the import service root, e.g. "https://host:19530".
	BaseURL string `koanf:"base_url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `koanf:"api_key"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// RESTClient talks to the Milvus v2 vectordb jobs API.
type RESTClient struct {
	config Config
	client *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates an import client with the given configuration.
func NewRESTClient(config Config) (*RESTClient, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &RESTClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type createRequest struct {
	CollectionName string     `json:"collectionName"`
	Files          [][]string `json:"files"`
}

type describeRequest struct {
	JobID string `json:"jobId"`
}

type apiResponse struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    responseData `json:"data"`
}

type responseData struct {
	JobID          string       `json:"jobId"`
	CollectionName string       `json:"collectionName"`
	State          string       `json:"state"`
	Progress       int          `json:"progress"`
	ImportedRows   int64        `json:"importedRows"`
	TotalRows      int64        `json:"totalRows"`
	Reason         string       `json:"reason"`
	Details        []fileDetail `json:"details"`
}

type fileDetail struct {
	FileName     string `json:"fileName"`
	State        string `json:"state"`
	ImportedRows int64  `json:"importedRows"`
	Reason       string `json:"reason"`
}

// Submit starts one import job covering all staged files.
func (c *RESTClient) Submit(ctx context.Context, collection string, files []string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no files to import", ErrImportJob)
	}

	// The jobs API groups files; each staged segment is its own group.
	groups := make([][]string, len(files))
	for i, f := range files {
		groups[i] = []string{f}
	}

	data, err := c.post(ctx, "/v2/vectordb/jobs/import/create", createRequest{
		CollectionName: collection,
		Files:          groups,
	})
	if err != nil {
		return "", err
	}
	if data.JobID == "" {
		return "", fmt.Errorf("%w: create returned no job id", ErrImportJob)
	}
	return data.JobID, nil
}

// Describe returns the current status of a job.
func (c *RESTClient) Describe(ctx context.Context, jobID string) (JobStatus, error) {
	data, err := c.post(ctx, "/v2/vectordb/jobs/import/describe", describeRequest{JobID: jobID})
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		JobID:        jobID,
		Collection:   data.CollectionName,
		State:        JobState(data.State),
		Progress:     data.Progress,
		ImportedRows: data.ImportedRows,
		TotalRows:    data.TotalRows,
		Reason:       data.Reason,
	}
	for _, d := range data.Details {
		status.Files = append(status.Files, FileStatus{
			Path:         d.FileName,
			ImportedRows: d.ImportedRows,
			State:        JobState(d.State),
			Reason:       d.Reason,
		})
	}
	return status, nil
}

func (c *RESTClient) post(ctx context.Context, path string, payload any) (responseData, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return responseData{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return responseData{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return responseData{}, fmt.Errorf("%w: %v", ErrImportJob, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return responseData{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return responseData{}, fmt.Errorf("%w: status %d: %s", ErrImportJob, resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return responseData{}, fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Code != 0 {
		return responseData{}, fmt.Errorf("%w: code %d: %s", ErrImportJob, parsed.Code, parsed.Message)
	}
	return parsed.Data, nil
}
