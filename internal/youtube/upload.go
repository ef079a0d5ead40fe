package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/api"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
)

const (
	// UploadBaseURL is the resumable-upload endpoint root.
	UploadBaseURL = "https://www.googleapis.com/upload/youtube/v3/videos"

	// DefaultChunkSize is 8 MiB. The protocol requires chunk sizes in
	// multiples of 256 KiB (except the final chunk).
	DefaultChunkSize = 8 << 20

	chunkAlign = 256 << 10

	// maxChunkRetries bounds in-session recovery attempts after a
	// transient chunk failure before the whole publish attempt is
	// surfaced to the caller as transient.
	maxChunkRetries = 3
)

// Uploader publishes local video files to YouTube.
type Uploader struct {
	gw        *api.Gateway
	client    *http.Client // chunk PUTs; no client timeout, ctx bounds them
	ts        oauth2.TokenSource
	baseURL   string
	chunkSize int64
	privacy   string
	category  string

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// UploaderOption customizes an Uploader.
type UploaderOption func(*Uploader)

// WithUploadBaseURL overrides the upload endpoint (tests).
func WithUploadBaseURL(u string) UploaderOption {
	return func(up *Uploader) { up.baseURL = u }
}

// WithChunkSize sets the chunk size, rounded down to 256 KiB alignment.
func WithChunkSize(n int64) UploaderOption {
	return func(up *Uploader) {
		if n >= chunkAlign {
			up.chunkSize = n - n%chunkAlign
		}
	}
}

// WithPrivacy sets the privacyStatus for uploaded videos (default "public").
func WithPrivacy(p string) UploaderOption {
	return func(up *Uploader) {
		if p != "" {
			up.privacy = p
		}
	}
}

// WithCategory sets the YouTube categoryId (default "22", People & Blogs).
func WithCategory(c string) UploaderOption {
	return func(up *Uploader) {
		if c != "" {
			up.category = c
		}
	}
}

// NewUploader builds an Uploader. gw carries metadata/session calls; chunk
// bodies go through a dedicated timeout-free client because a chunk PUT of
// several MiB must not race a fixed client timeout.
func NewUploader(gw *api.Gateway, ts oauth2.TokenSource, opts ...UploaderOption) *Uploader {
	up := &Uploader{
		gw:        gw,
		client:    &http.Client{},
		ts:        ts,
		baseURL:   UploadBaseURL,
		chunkSize: DefaultChunkSize,
		privacy:   "public",
		category:  "22",
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, o := range opts {
		o(up)
	}
	return up
}

// Request describes one video to publish.
type Request struct {
	LocalPath  string
	Title      string
	SourceName string // original filename, mentioned in the description
}

// Progress receives upload progress after every acknowledged chunk.
type Progress func(uploaded, total int64, speedBytesPerSec int64)

// videoMeta is the metadata body for the session-initiation call.
type videoMeta struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		CategoryID  string   `json:"categoryId"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

func (u *Uploader) meta(req Request) videoMeta {
	var m videoMeta
	m.Snippet.Title = req.Title
	m.Snippet.Description = fmt.Sprintf("Uploaded from Yandex Disk: %s", req.SourceName)
	m.Snippet.Tags = []string{"Yandex Disk", "API Upload"}
	m.Snippet.CategoryID = u.category
	m.Status.PrivacyStatus = u.privacy
	return m
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "video/quicktime"
}

// Publish uploads one file and returns the new video ID.
//
// One Publish call is one publish attempt in the transfer engine's sense:
// it initiates a resumable session and recovers from transient chunk
// failures within that session (status probe + offset resume). If the
// session cannot be completed it returns a classified error; a transient
// class means the engine may call Publish again, which starts a fresh
// session.
func (u *Uploader) Publish(ctx context.Context, req Request, progress Progress) (string, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return "", model.Classified(model.ClassPermanentItem, fmt.Errorf("open staging file: %w", err))
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", model.Classified(model.ClassPermanentItem, err)
	}
	size := fi.Size()
	if size == 0 {
		return "", model.ClassifiedF(model.ClassPermanentItem, "staging file %s is empty", req.LocalPath)
	}

	sessionURL, err := u.initiateSession(ctx, req, size)
	if err != nil {
		return "", err
	}
	return u.uploadChunks(ctx, f, size, sessionURL, progress)
}

// initiateSession starts a resumable upload and returns the session URL.
func (u *Uploader) initiateSession(ctx context.Context, req Request, size int64) (string, error) {
	body, err := json.Marshal(u.meta(req))
	if err != nil {
		return "", model.Classified(model.ClassPermanentItem, err)
	}

	tok, err := u.ts.Token()
	if err != nil {
		return "", model.Classified(model.ClassPermanentItem, fmt.Errorf("destination credential: %w", err))
	}

	endpoint := u.baseURL + "?uploadType=resumable&part=snippet,status"
	resp, err := u.gw.Do(ctx, "videos.insert.session", func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		tok.SetAuthHeader(r)
		r.Header.Set("Content-Type", "application/json; charset=UTF-8")
		r.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
		r.Header.Set("X-Upload-Content-Type", contentTypeFor(req.LocalPath))
		return r, nil
	})
	if err != nil {
		return "", model.Classified(model.ClassTransient, fmt.Errorf("initiate upload session: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyAPIError(resp)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", model.ClassifiedF(model.ClassTransient, "upload session response missing Location header")
	}
	return loc, nil
}

// uploadChunks drives the chunked PUT loop against one session URL.
func (u *Uploader) uploadChunks(ctx context.Context, f *os.File, size int64, sessionURL string, progress Progress) (string, error) {
	var offset int64
	retries := 0
	start := time.Now()

	for offset < size {
		end := min(offset+u.chunkSize, size)
		chunk := io.NewSectionReader(f, offset, end-offset)

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, chunk)
		if err != nil {
			return "", model.Classified(model.ClassPermanentItem, err)
		}
		req.ContentLength = end - offset
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, size))

		resp, err := u.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", model.Classified(model.ClassTransient, ctx.Err())
			}
			next, rerr := u.recover(ctx, sessionURL, size, &retries, fmt.Errorf("chunk upload: %w", err))
			if rerr != nil {
				return "", rerr
			}
			offset = next
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			id, derr := decodeVideoID(resp)
			if derr != nil {
				return "", derr
			}
			report(progress, size, size, start)
			return id, nil

		case resp.StatusCode == 308: // Resume Incomplete
			offset = nextOffset(resp, end)
			resp.Body.Close()
			retries = 0
			report(progress, offset, size, start)

		case resp.StatusCode >= 500:
			resp.Body.Close()
			next, rerr := u.recover(ctx, sessionURL, size, &retries, fmt.Errorf("chunk upload: HTTP %s", resp.Status))
			if rerr != nil {
				return "", rerr
			}
			offset = next

		default:
			defer resp.Body.Close()
			return "", classifyAPIError(resp)
		}
	}

	// All bytes are in but no completion response was seen (the final 308
	// acknowledged everything). Probe once for the result.
	return u.finalProbe(ctx, sessionURL, size)
}

// recover sleeps with capped exponential backoff, then asks the session for
// its committed offset. Returns the offset to resume from.
func (u *Uploader) recover(ctx context.Context, sessionURL string, size int64, retries *int, cause error) (int64, error) {
	*retries++
	if *retries > maxChunkRetries {
		return 0, model.Classified(model.ClassTransient, fmt.Errorf("upload session abandoned after %d recovery attempts: %w", maxChunkRetries, cause))
	}
	wait := min(time.Duration(1<<*retries)*time.Second, 60*time.Second)
	if err := u.sleep(ctx, wait); err != nil {
		return 0, model.Classified(model.ClassTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, nil)
	if err != nil {
		return 0, model.Classified(model.ClassPermanentItem, err)
	}
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, model.Classified(model.ClassTransient, fmt.Errorf("session status probe: %w (after %v)", err, cause))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 308:
		return nextOffset(resp, 0), nil
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// Everything was committed before the failure; re-reading the
		// offset as size makes the caller fall through to the final probe.
		return size, nil
	case resp.StatusCode >= 500:
		return 0, model.ClassifiedF(model.ClassTransient, "session status probe: HTTP %s (after %v)", resp.Status, cause)
	default:
		return 0, classifyAPIErrorAt(resp, "session status probe")
	}
}

func (u *Uploader) finalProbe(ctx context.Context, sessionURL string, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, nil)
	if err != nil {
		return "", model.Classified(model.ClassPermanentItem, err)
	}
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))

	resp, err := u.client.Do(req)
	if err != nil {
		return "", model.Classified(model.ClassTransient, fmt.Errorf("final session probe: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return decodeVideoID(resp)
	}
	return "", model.ClassifiedF(model.ClassTransient, "upload ended without a completion response: HTTP %s", resp.Status)
}

// nextOffset reads the committed offset from a 308 response.
// "Range: bytes=0-N" means N+1 bytes are committed; no Range header means
// nothing is.
func nextOffset(resp *http.Response, fallback int64) int64 {
	r := resp.Header.Get("Range")
	if r == "" {
		return 0
	}
	idx := strings.LastIndex(r, "-")
	if idx < 0 {
		return fallback
	}
	last, err := strconv.ParseInt(r[idx+1:], 10, 64)
	if err != nil {
		return fallback
	}
	return last + 1
}

func decodeVideoID(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", model.ClassifiedF(model.ClassTransient, "decode upload response: %w", err)
	}
	if body.ID == "" {
		return "", model.ClassifiedF(model.ClassPermanentItem, "upload completed but response carries no video id")
	}
	return body.ID, nil
}

// googleError mirrors the Data API error envelope.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// classifyAPIError normalizes a non-2xx Data API response:
// quota/rate-limit reasons are ClassQuota, auth failures and other 4xx are
// ClassPermanentItem, 5xx is ClassTransient.
func classifyAPIError(resp *http.Response) error {
	return classifyAPIErrorAt(resp, "youtube api")
}

func classifyAPIErrorAt(resp *http.Response, label string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	reason := ""
	msg := strings.TrimSpace(string(raw))
	var ge googleError
	if err := json.Unmarshal(raw, &ge); err == nil && ge.Error.Code != 0 {
		msg = ge.Error.Message
		if len(ge.Error.Errors) > 0 {
			reason = ge.Error.Errors[0].Reason
		}
	}

	switch reason {
	case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
		return model.ClassifiedF(model.ClassQuota, "%s: %s (HTTP %s)", label, reason, resp.Status)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return model.ClassifiedF(model.ClassQuota, "%s: HTTP %s: %s", label, resp.Status, msg)
	}
	if resp.StatusCode >= 500 {
		return model.ClassifiedF(model.ClassTransient, "%s: HTTP %s: %s", label, resp.Status, msg)
	}
	return model.ClassifiedF(model.ClassPermanentItem, "%s: HTTP %s: %s", label, resp.Status, msg)
}

func report(progress Progress, uploaded, total int64, start time.Time) {
	if progress == nil {
		return
	}
	var speed int64
	if ms := time.Since(start).Milliseconds(); ms > 0 {
		speed = uploaded / ms * 1000
	}
	progress(uploaded, total, speed)
}
