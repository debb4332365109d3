// Package client talks to the recordings server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/voicecollect/internal/filename"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second

	// HealthyStatus is the body status the server reports when it is up.
	HealthyStatus = "Server is running"
)

var (
	// ErrNetworkTimeout means the request did not complete in time.
	ErrNetworkTimeout = &Error{msg: "network timeout", kind: "transient"}
	// ErrServerOffline means the server could not be reached.
	ErrServerOffline = &Error{msg: "server offline", kind: "transient"}
)

// Error is a transport failure with a classification.
type Error struct {
	msg  string
	kind string
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) ErrorKind() string { return e.kind }

// ResponseError is a non-2xx reply from the server.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ErrorKind is "validation" for client errors and "transient" otherwise.
func (e *ResponseError) ErrorKind() string {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return "validation"
	}
	return "transient"
}

// UploadResult echoes what the server stored.
type UploadResult struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client is an HTTP client for the recordings API.
type Client struct {
	baseURL       string
	timeout       time.Duration
	healthTimeout time.Duration
	httpClient    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout for uploads, listings and deletes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHealthTimeout sets the timeout for health checks.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("server url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       DefaultTimeout,
		healthTimeout: DefaultHealthTimeout,
		httpClient:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends audio as multipart field "audio" under fileName.
func (c *Client) Upload(ctx context.Context, fileName string, audio []byte) error {
	_, err := c.UploadRecording(ctx, fileName, audio)
	return err
}

// UploadRecording is Upload returning the server's acknowledgement.
func (c *Client) UploadRecording(ctx context.Context, fileName string, audio []byte) (*UploadResult, error) {
	if err := filename.Validate(fileName); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, fileName))
	ext := filename.Extension(strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")))
	header.Set("Content-Type", filename.ContentType(ext))
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var result UploadResult
	if err := c.do(ctx, c.timeout, http.MethodPost, "/api/upload", mw.FormDataContentType(), &body, &result); err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}
	slog.Debug("Uploaded recording", "file_name", result.Filename, "size", result.Size)
	return &result, nil
}

// GetRecordings lists the stored file names of a subject.
func (c *Client) GetRecordings(ctx context.Context, subjectID string) ([]string, error) {
	if !filename.ValidSubjectID(subjectID) {
		return nil, fmt.Errorf("invalid subject id %q", subjectID)
	}
	var data struct {
		Recordings []string `json:"recordings"`
	}
	if err := c.do(ctx, c.timeout, http.MethodGet, "/api/recordings/"+subjectID, "", nil, &data); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return data.Recordings, nil
}

// DeleteRecording removes a stored file. Deleting a missing file succeeds.
func (c *Client) DeleteRecording(ctx context.Context, name string) error {
	if err := filename.Validate(name); err != nil {
		return err
	}
	if err := c.do(ctx, c.timeout, http.MethodDelete, "/api/recordings/"+url.PathEscape(name), "", nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// CheckServerStatus reports whether the health endpoint answers 200 with the
// running status. Any failure counts as offline.
func (c *Client) CheckServerStatus(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("Health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == HealthyStatus
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ResponseError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// classify maps transport errors onto ErrNetworkTimeout or ErrServerOffline.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrServerOffline, err)
}
