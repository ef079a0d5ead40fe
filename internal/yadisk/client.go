// Package yadisk is a client for the Yandex Disk public-resources API.
// It lists the files of a public folder and streams their bytes to local
// staging paths. All calls go through the shared api.Gateway; failures are
// normalized into the model error classification at this boundary.
package yadisk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/api"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
)

const (
	// BaseURL is the Yandex Disk REST API root.
	BaseURL = "https://cloud-api.yandex.net/v1/disk"

	// listPageLimit is the page size used when walking a public folder.
	listPageLimit = 200
)

// Client accesses one public folder, optionally with an OAuth token for
// higher rate limits.
type Client struct {
	gw        *api.Gateway
	dl        *api.Gateway // no client timeout; downloads are bounded by ctx
	baseURL   string
	publicKey string
	token     string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithToken attaches an OAuth token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a Client for the public folder identified by publicURL
// (either a share URL like https://disk.yandex.ru/d/XXXX or a bare key).
func New(publicURL string, gw, dl *api.Gateway, opts ...Option) *Client {
	c := &Client{
		gw:        gw,
		dl:        dl,
		baseURL:   BaseURL,
		publicKey: ExtractPublicKey(publicURL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ExtractPublicKey extracts the public key from a Yandex Disk share URL.
// Anything that does not look like a /d/<key> share URL is passed through
// unchanged and treated as an already-extracted key.
func ExtractPublicKey(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil {
		return publicURL
	}
	if len(u.Path) > 3 && u.Path[:3] == "/d/" {
		return u.Path[3:]
	}
	return publicURL
}

// listResponse mirrors the fields we need from GET /public/resources.
type listResponse struct {
	Embedded struct {
		Items []struct {
			Type       string `json:"type"`
			Name       string `json:"name"`
			Path       string `json:"path"`
			Size       int64  `json:"size"`
			ResourceID string `json:"resource_id"`
		} `json:"items"`
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"_embedded"`
}

func (c *Client) addAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "OAuth "+c.token)
	}
}

// List enumerates every file in the public folder, walking all pages in
// listing order. Directories are skipped. A 403 is reported as
// ErrSourceForbidden and a 404 as ErrSourceNotFound, both permanent-run.
func (c *Client) List(ctx context.Context) ([]model.TransferItem, error) {
	var items []model.TransferItem
	offset := 0

	for {
		endpoint := fmt.Sprintf("%s/public/resources?public_key=%s&offset=%d&limit=%d",
			c.baseURL, url.QueryEscape(c.publicKey), offset, listPageLimit)

		resp, err := c.gw.Do(ctx, "public.resources", func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			c.addAuth(req)
			return req, nil
		})
		if err != nil {
			return nil, model.Classified(model.ClassPermanentRun, fmt.Errorf("list public folder: %w", err))
		}

		page, err := decodeList(resp)
		if err != nil {
			return nil, err
		}

		for _, it := range page.Embedded.Items {
			if it.Type != "file" {
				continue
			}
			items = append(items, model.TransferItem{
				ResourceID: it.ResourceID,
				Path:       it.Path,
				Name:       it.Name,
				SizeBytes:  it.Size,
			})
		}

		offset += len(page.Embedded.Items)
		if len(page.Embedded.Items) == 0 || offset >= page.Embedded.Total {
			return items, nil
		}
	}
}

func decodeList(resp *http.Response) (*listResponse, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden:
		return nil, model.Classified(model.ClassPermanentRun, model.ErrSourceForbidden)
	case resp.StatusCode == http.StatusNotFound:
		return nil, model.Classified(model.ClassPermanentRun, model.ErrSourceNotFound)
	default:
		return nil, model.ClassifiedF(model.ClassPermanentRun, "list public folder: HTTP %s", resp.Status)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, model.ClassifiedF(model.ClassPermanentRun, "decode listing: %w", err)
	}
	return &page, nil
}

// DownloadHref resolves the direct download URL for one item path.
func (c *Client) DownloadHref(ctx context.Context, itemPath string) (string, error) {
	endpoint := fmt.Sprintf("%s/public/resources/download?public_key=%s&path=%s",
		c.baseURL, url.QueryEscape(c.publicKey), url.QueryEscape(itemPath))

	resp, err := c.gw.Do(ctx, "public.resources.download", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.addAuth(req)
		return req, nil
	})
	if err != nil {
		return "", model.Classified(model.ClassTransient, fmt.Errorf("resolve download link: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		// The item vanished between listing and fetch.
		return "", model.ClassifiedF(model.ClassPermanentItem, "item %s no longer exists at the source", itemPath)
	case resp.StatusCode == http.StatusForbidden:
		return "", model.Classified(model.ClassPermanentRun, model.ErrSourceForbidden)
	default:
		return "", model.ClassifiedF(model.ClassTransient, "resolve download link: HTTP %s", resp.Status)
	}

	var body struct {
		Href string `json:"href"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", model.ClassifiedF(model.ClassTransient, "decode download link: %w", err)
	}
	if body.Href == "" {
		return "", model.ClassifiedF(model.ClassPermanentItem, "empty download link for %s", itemPath)
	}
	return body.Href, nil
}

// Progress receives streaming download progress.
type Progress func(downloaded, total int64, speedBytesPerSec int64)

// Fetch resolves the item's download link and streams its bytes to
// localPath. Returns the number of bytes written. A partially written file
// is the caller's to clean up; Fetch reports sizes truthfully either way.
func (c *Client) Fetch(ctx context.Context, item model.TransferItem, localPath string, progress Progress) (int64, error) {
	href, err := c.DownloadHref(ctx, item.Path)
	if err != nil {
		return 0, err
	}
	return c.download(ctx, href, localPath, progress)
}

func (c *Client) download(ctx context.Context, href, localPath string, progress Progress) (int64, error) {
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, model.Classified(model.ClassPermanentRun, fmt.Errorf("create staging directory: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return 0, model.Classified(model.ClassPermanentItem, err)
	}
	// The download href is pre-signed; no auth header.
	resp, err := c.dl.Client().Do(req)
	if err != nil {
		return 0, model.Classified(model.ClassTransient, fmt.Errorf("download: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		// Pre-signed links expire, so even a 4xx here is retryable: the next
		// Fetch attempt resolves a fresh href.
		return 0, model.ClassifiedF(model.ClassTransient, "download: HTTP %s", resp.Status)
	}

	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, model.Classified(model.ClassPermanentRun, fmt.Errorf("open staging file: %w", err))
	}
	defer f.Close()

	counter := &writeCounter{
		total:    totalFrom(resp),
		start:    time.Now(),
		progress: progress,
	}
	written, err := io.Copy(f, io.TeeReader(resp.Body, counter))
	if err != nil {
		return written, model.Classified(model.ClassTransient, fmt.Errorf("download interrupted: %w", err))
	}
	return written, nil
}

func totalFrom(resp *http.Response) int64 {
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// writeCounter reports streaming progress to the callback.
type writeCounter struct {
	downloaded int64
	total      int64
	start      time.Time
	progress   Progress
}

func (wc *writeCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.downloaded += int64(n)
	if wc.progress != nil {
		var speed int64
		if ms := time.Since(wc.start).Milliseconds(); ms > 0 {
			speed = wc.downloaded / ms * 1000
		}
		wc.progress(wc.downloaded, wc.total, speed)
	}
	return n, nil
}
