// Package dropclient is the device side of a qrdrop pairing: it declares an
// intent for a scanned identifier, then uploads or long-polls for files.
package dropclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"qrdrop/internal/naming"
)

// ErrForbidden is what the server answers for any rejected request: unknown
// identifier, bad intent, unknown file.
var ErrForbidden = errors.New("dropclient: forbidden")

const (
	IntentUpload   = "upload"
	IntentDownload = "download"
)

// File is one entry of a file-list response.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
	Icon string `json:"icon"`
}

type BindResult struct {
	ID     string `json:"id"`
	Intent string `json:"intent"`
	State  string `json:"state"`
}

type Client struct {
	BaseURL string
	ID      string
	HTTP    *http.Client
}

// New builds a client for one identifier. The HTTP client has no overall
// timeout since file-list calls are long polls bounded by the server.
func New(baseURL, id string) *Client {
	return &Client{
		BaseURL: normalizeBaseURL(baseURL),
		ID:      strings.TrimSpace(id),
		HTTP:    &http.Client{},
	}
}

func (c *Client) Bind(ctx context.Context, intent string) (BindResult, error) {
	q := url.Values{"id": {c.ID}, "what": {intent}}
	resp, err := c.do(ctx, http.MethodGet, "/bind?"+q.Encode(), nil, "")
	if err != nil {
		return BindResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out BindResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BindResult{}, fmt.Errorf("decode bind response: %w", err)
	}
	return out, nil
}

// Send uploads paths in order as one batch. The body is streamed, so large
// files are never held in memory.
func (c *Client) Send(ctx context.Context, paths []string) ([]File, error) {
	if len(paths) == 0 {
		return nil, errors.New("dropclient: nothing to send")
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, c.ID, paths))
	}()

	resp, err := c.do(ctx, http.MethodPost, "/api/upload", pr, mw.FormDataContentType())
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var files []File
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return files, nil
}

func writeParts(mw *multipart.Writer, id string, paths []string) error {
	if err := mw.WriteField("id", id); err != nil {
		return err
	}
	for _, p := range paths {
		if err := writePart(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Poll runs one file-list wait. An empty result means the server's wait
// expired and the caller should poll again.
func (c *Client) Poll(ctx context.Context) ([]File, error) {
	q := url.Values{"id": {c.ID}}
	resp, err := c.do(ctx, http.MethodGet, "/api/filelist?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var files []File
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	return files, nil
}

// Await polls up to rounds times and returns the first non-empty batch.
func (c *Client) Await(ctx context.Context, rounds int) ([]File, error) {
	if rounds <= 0 {
		rounds = 1
	}
	for i := 0; i < rounds; i++ {
		files, err := c.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return files, nil
		}
	}
	return nil, nil
}

// Fetch downloads f into dir without overwriting anything already there and
// returns the path it wrote.
func (c *Client) Fetch(ctx context.Context, f File, dir string) (string, error) {
	uri := f.URI
	if uri == "" {
		q := url.Values{"id": {c.ID}}
		uri = "/api/download/" + url.PathEscape(f.ID) + "?" + q.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, uri, nil, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	out, path, err := createLocal(dir, naming.Sanitize(f.Name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, out.Close()
}

func createLocal(dir, name string) (*os.File, string, error) {
	candidate := name
	for n := 1; n <= naming.MaxVersion; n++ {
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		candidate = naming.Versioned(name, n)
	}
	return nil, "", fmt.Errorf("dropclient: no free name for %q in %s", name, dir)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		return nil, ErrForbidden
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return nil, fmt.Errorf("%s %s failed: %s", method, path, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
