// Package client is a small HTTP client for the patient registry API, used by
// the CLI to talk to a running server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ehr/patientregistry/internal/domain/patient"
)

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("patient api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

type listResult struct {
	TotalPatients int                `json:"total_patients"`
	Patients      []*patient.Patient `json:"patients"`
}

func (c *Client) List(ctx context.Context) ([]*patient.Patient, error) {
	var out listResult
	if err := c.do(ctx, http.MethodGet, "/patients", nil, &out); err != nil {
		return nil, err
	}
	return out.Patients, nil
}

func (c *Client) Get(ctx context.Context, id string) (*patient.Patient, error) {
	var out patient.Patient
	if err := c.do(ctx, http.MethodGet, "/patients/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, in patient.Input) (*patient.Patient, error) {
	var out struct {
		Patient *patient.Patient `json:"patient"`
	}
	if err := c.do(ctx, http.MethodPost, "/patients", in, &out); err != nil {
		return nil, err
	}
	return out.Patient, nil
}

func (c *Client) Stats(ctx context.Context) (*patient.Stats, error) {
	var out patient.Stats
	if err := c.do(ctx, http.MethodGet, "/patients/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	apiErr := &APIError{}
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}
