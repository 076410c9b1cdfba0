// Package client provides an HTTP client for the filedrift API with
// retry and bearer auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/filedrift/filedrift/pkg/retry"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// FileInfo describes one stored file as reported by the server.
type FileInfo struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Length      int64     `json:"length"`
	ContentType string    `json:"contentType,omitempty"`
	Hash        string    `json:"hash"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int64     `json:"version"`
	Location    string    `json:"location,omitempty"`
}

// Page is one page of a file listing.
type Page struct {
	Total int64      `json:"total"`
	Files []FileInfo `json:"files"`
	Next  string     `json:"next,omitempty"`
}

// ExportRequest names the files to bundle into one archive.
type ExportRequest struct {
	FileName string   `json:"fileName"`
	FlatZip  bool     `json:"flatZip"`
	Paths    []string `json:"paths"`
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// Client talks to a filedrift server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// Login exchanges credentials for a token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/login", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return responseError("login", resp)
		}
		var out struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		c.SetAuthToken(out.Token)
		return nil
	})
}

// fileURL builds /v1/files/{bucket}{path}. The path must start with a
// slash or be empty.
func (c *Client) fileURL(bucket, path string) string {
	return c.baseURL + "/v1/files/" + url.PathEscape(bucket) + path
}

// List fetches one page of the bucket listing under a path prefix.
func (c *Client) List(ctx context.Context, bucket, prefix string, size int, cursor string) (*Page, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*Page, error) {
		q := url.Values{"op": {"list"}}
		if size > 0 {
			q.Set("size", strconv.Itoa(size))
		}
		if cursor != "" {
			q.Set("next", cursor)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.fileURL(bucket, prefix)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, responseError("list", resp)
		}
		page := &Page{}
		if err := json.NewDecoder(resp.Body).Decode(page); err != nil {
			return nil, err
		}
		return page, nil
	})
}

// Upload stores content at bucket/path. The reader is consumed, so no
// retry happens here; callers holding a re-readable source retry
// themselves.
func (c *Client) Upload(ctx context.Context, bucket, path string, content io.Reader, size int64) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.fileURL(bucket, path), content)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("upload", resp)
	}
	info := &FileInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, err
	}
	return info, nil
}

// Download opens the content at bucket/path. The caller closes the
// reader.
func (c *Client) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.fileURL(bucket, path), nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError("download", resp)
	}
	return resp.Body, nil
}

// Delete removes the entry at bucket/path, or every entry under it
// when path names no single file. It returns the number of removed
// entries.
func (c *Client) Delete(ctx context.Context, bucket, path string) (int64, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
			c.fileURL(bucket, path), nil)
		if err != nil {
			return 0, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return 0, responseError("delete", resp)
		}
		var out struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, err
		}
		return out.Deleted, nil
	})
}

// Export streams a zip archive of the requested paths to w.
func (c *Client) Export(ctx context.Context, bucket string, export ExportRequest, w io.Writer) error {
	body, err := json.Marshal(export)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.fileURL(bucket, "")+"?op=export", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError("export", resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func responseError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var out struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Error != "" {
		err := fmt.Errorf("%s failed: %s", op, out.Error)
		if resp.StatusCode >= 500 {
			return retry.Retryable(err)
		}
		return err
	}
	err := fmt.Errorf("%s failed: server returned %d", op, resp.StatusCode)
	if resp.StatusCode >= 500 {
		return retry.Retryable(err)
	}
	return err
}
