package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ServiceClient talks to the OCR micro-service that fronts the vision model.
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewServiceClient constructs a client for baseURL.
func NewServiceClient(baseURL string, timeout time.Duration) *ServiceClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ServiceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks if the remote service is available.
func (c *ServiceClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ocr service returned status %d: %w", resp.StatusCode, ErrUpstream)
	}
	return nil
}

type invoiceResponse struct {
	Success     bool   `json:"success"`
	InvoiceJSON string `json:"invoice_json"`
}

type weightResponse struct {
	Success bool     `json:"success"`
	Weight  *float64 `json:"weight"`
}

// InvoiceJSON posts the document to /ocr and returns the model output.
func (c *ServiceClient) InvoiceJSON(ctx context.Context, doc []byte) (string, error) {
	var out invoiceResponse
	if err := c.upload(ctx, "/ocr", doc, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("invoice extraction unsuccessful: %w", ErrUpstream)
	}
	return out.InvoiceJSON, nil
}

// WeightText posts the document to /extract-weight. The service already parsed the weight, so
// it is wrapped back into the model's object shape for the shared parser.
func (c *ServiceClient) WeightText(ctx context.Context, doc []byte) (string, error) {
	var out weightResponse
	if err := c.upload(ctx, "/extract-weight", doc, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("weight extraction unsuccessful: %w", ErrUpstream)
	}
	b, err := json.Marshal(struct {
		Weight *float64 `json:"weight"`
	}{out.Weight})
	return string(b), err
}

func (c *ServiceClient) upload(ctx context.Context, path string, doc []byte, target any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("pdf", "document.pdf")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, bytes.NewReader(doc)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", path, err, ErrUpstream)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d: %w", path, resp.StatusCode, ErrUpstream)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: decode response: %v: %w", path, err, ErrUpstream)
	}
	return nil
}
