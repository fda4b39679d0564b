package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/colorify/internal/backend/codec"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
	DefaultTimeout = 120 * time.Second

	// cap on error bodies kept for messages
	maxErrorBodyBytes = 64 << 10
	// DefaultMaxResponseBytes bounds the model output read into memory.
	DefaultMaxResponseBytes = 64 << 20
)

// ImageToImager transforms one image into another using a remote model.
type ImageToImager interface {
	ImageToImage(ctx context.Context, imagePNG []byte, modelID string) (image.Image, error)
}

// Options configures the Hugging Face inference client.
type Options struct {
	Token      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// MaxResponseBytes defaults to DefaultMaxResponseBytes when not positive.
	MaxResponseBytes int64
}

// Client calls the Hugging Face hosted inference API.
type Client struct {
	token            string
	baseURL          string
	timeout          time.Duration
	maxResponseBytes int64
	httpClient       *http.Client
}

var _ ImageToImager = (*Client)(nil)

type errorResponse struct {
	Error         json.RawMessage `json:"error"`
	EstimatedTime float64         `json:"estimated_time"`
}

// NewClient constructs a client; the token is mandatory.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("inference: token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(timeout)
	}
	maxResponseBytes := opts.MaxResponseBytes
	if maxResponseBytes <= 0 {
		maxResponseBytes = DefaultMaxResponseBytes
	}
	return &Client{
		token:            opts.Token,
		baseURL:          baseURL,
		timeout:          timeout,
		maxResponseBytes: maxResponseBytes,
		httpClient:       httpClient,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// ImageToImage posts the PNG to the model endpoint and decodes the returned image.
// Failures are returned classified; see Classify.
func (c *Client) ImageToImage(ctx context.Context, imagePNG []byte, modelID string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	img, err := c.imageToImage(ctx, imagePNG, modelID)
	if err != nil {
		return nil, Classify(err, modelID)
	}
	return img, nil
}

func (c *Client) imageToImage(ctx context.Context, imagePNG []byte, modelID string) (image.Image, error) {
	endpoint, err := c.modelURL(modelID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(imagePNG))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "image/png")

	slog.Debug("inference: calling model", "model_id", modelID, "request_size_bytes", len(imagePNG))
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, parseAPIError(resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("model output exceeds %d bytes", c.maxResponseBytes)
	}
	slog.Debug("inference: model responded",
		"model_id", modelID,
		"status", resp.StatusCode,
		"response_size_bytes", len(body),
		"latency", time.Since(start))

	img, err := codec.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}
	return img, nil
}

func (c *Client) modelURL(modelID string) (string, error) {
	modelID = strings.Trim(strings.TrimSpace(modelID), "/")
	if modelID == "" {
		return "", fmt.Errorf("model id is required")
	}
	segments := strings.Split(modelID, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return c.baseURL + "/" + strings.Join(segments, "/"), nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(statusCode)
		}
		return apiErr
	}
	apiErr.EstimatedTime = parsed.EstimatedTime

	// "error" is either a string or a list of strings
	var single string
	var many []string
	switch {
	case json.Unmarshal(parsed.Error, &single) == nil && single != "":
		apiErr.Message = single
	case json.Unmarshal(parsed.Error, &many) == nil && len(many) > 0:
		apiErr.Message = strings.Join(many, "; ")
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
