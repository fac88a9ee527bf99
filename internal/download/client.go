package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stackup-ml/stackup/internal/logger"
	stackuperrors "github.com/stackup-ml/stackup/pkg/errors"
)

const (
	defaultConnections  = 16
	defaultMinChunkSize = int64(8 << 20)

	partSuffix  = ".part"
	stateSuffix = ".part.json"
)

// defaultAuthHosts are the artifact host suffixes that receive the bearer
// token when one is configured.
var defaultAuthHosts = []string{"huggingface.co"}

// Task describes a single artifact to fetch.
type Task struct {
	URL       string
	Dir       string
	Filename  string
	Overwrite bool
}

// Outcome classifies how a task ended.
type Outcome string

const (
	// OutcomeDownloaded means the artifact was fetched from scratch.
	OutcomeDownloaded Outcome = "downloaded"
	// OutcomeResumed means a prior partial download was completed.
	OutcomeResumed Outcome = "resumed"
	// OutcomeSkipped means a complete artifact was already present.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the fetch failed; the run continues regardless.
	OutcomeFailed Outcome = "failed"
)

// Result captures the per-task outcome for the run report.
type Result struct {
	Task     Task
	Path     string
	Outcome  Outcome
	Bytes    int64
	Err      error
	Duration time.Duration
}

// Options configures a Client.
type Options struct {
	// Connections bounds the concurrent range requests per file.
	Connections int
	// MinChunkSize is the smallest segment worth a dedicated connection.
	MinChunkSize int64
	// Token is attached as a bearer header for matching hosts.
	Token string
	// AuthHosts are host suffixes that receive the token.
	AuthHosts []string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client fetches large remote files with bounded per-file connection
// parallelism, skip-if-complete idempotency, and resumable partial state.
type Client struct {
	connections  int
	minChunkSize int64
	token        string
	authHosts    []string
	httpClient   *http.Client
	logger       *logger.Logger
}

// New creates a Client, applying defaults for unset options.
func New(opts Options) *Client {
	c := &Client{
		connections:  opts.Connections,
		minChunkSize: opts.MinChunkSize,
		token:        opts.Token,
		authHosts:    opts.AuthHosts,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
	}
	if c.connections <= 0 {
		c.connections = defaultConnections
	}
	if c.minChunkSize <= 0 {
		c.minChunkSize = defaultMinChunkSize
	}
	if len(c.authHosts) == 0 {
		c.authHosts = defaultAuthHosts
	}
	if c.httpClient == nil {
		// Timeout deliberately left at zero: model weights take arbitrarily
		// long and cancellation flows through the request context.
		c.httpClient = &http.Client{}
	}
	return c
}

// FetchAll fetches the tasks one at a time in order. A failed task is
// recorded and the next one proceeds; the caller inspects the results.
func (c *Client) FetchAll(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		res := c.Fetch(ctx, task)
		if res.Err != nil {
			c.logger.WithFields(map[string]any{"url": task.URL}).Error(res.Err, "download failed")
		} else {
			c.logger.WithFields(map[string]any{
				"url":     task.URL,
				"path":    res.Path,
				"outcome": string(res.Outcome),
				"bytes":   res.Bytes,
			}).Info("download finished")
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// Fetch downloads a single task. The destination file, once fully written, is
// never re-fetched unless the task sets Overwrite; a partial file at the
// destination path resumes instead of restarting.
func (c *Client) Fetch(ctx context.Context, task Task) Result {
	start := time.Now()
	res := Result{Task: task}
	finish := func(r Result) Result {
		r.Duration = time.Since(start)
		return r
	}

	name := task.Filename
	if name == "" {
		derived, err := FilenameFromURL(task.URL)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = stackuperrors.NewDownloadError(task.URL, 0, err)
			return finish(res)
		}
		name = derived
	}

	dest := filepath.Join(task.Dir, name)
	res.Path = dest
	partPath := dest + partSuffix
	statePath := dest + stateSuffix

	if info, err := os.Stat(dest); err == nil && !task.Overwrite {
		// Existing file is the idempotency signal; leave it untouched.
		res.Outcome = OutcomeSkipped
		res.Bytes = info.Size()
		return finish(res)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = stackuperrors.NewDownloadError(task.URL, 0, err)
		return finish(res)
	}

	if task.Overwrite {
		os.Remove(partPath)
		os.Remove(statePath)
	}

	size, rangeOK, err := c.probe(ctx, task.URL)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return finish(res)
	}

	resumed, err := c.fetchInto(ctx, task.URL, dest, partPath, statePath, size, rangeOK)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return finish(res)
	}

	if info, err := os.Stat(dest); err == nil {
		res.Bytes = info.Size()
	}
	res.Outcome = OutcomeDownloaded
	if resumed {
		res.Outcome = OutcomeResumed
	}
	return finish(res)
}

// fetchInto drives the part file to completion and renames it over dest.
// It reports whether prior partial state was reused.
func (c *Client) fetchInto(ctx context.Context, rawURL, dest, partPath, statePath string, size int64, rangeOK bool) (bool, error) {
	if st, err := loadFetchState(statePath); err == nil && st.matches(rawURL, size) && rangeOK {
		// The control file only describes the part file it was written
		// against; without that file its completed-chunk map would turn
		// into holes of zeros in a fresh part.
		if info, err := os.Stat(partPath); err == nil && info.Size() == st.Size {
			if err := c.fetchChunks(ctx, rawURL, partPath, statePath, st); err != nil {
				return true, err
			}
			return true, c.finalize(dest, partPath, statePath)
		}
	}
	// A control file that does not match the probe or its part file is stale.
	os.Remove(statePath)

	if info, err := os.Stat(partPath); err == nil && info.Size() > 0 && size > 0 {
		if info.Size() == size {
			return true, c.finalize(dest, partPath, statePath)
		}
		if rangeOK && info.Size() < size {
			if err := c.appendFrom(ctx, rawURL, partPath, info.Size()); err != nil {
				return true, err
			}
			return true, c.finalize(dest, partPath, statePath)
		}
	}

	if rangeOK && size > c.minChunkSize && c.connections > 1 {
		st := newFetchState(rawURL, size, c.chunkSize(size))
		if err := c.fetchChunks(ctx, rawURL, partPath, statePath, st); err != nil {
			return false, err
		}
		return false, c.finalize(dest, partPath, statePath)
	}

	if err := c.fetchSingle(ctx, rawURL, partPath); err != nil {
		return false, err
	}
	return false, c.finalize(dest, partPath, statePath)
}

func (c *Client) finalize(dest, partPath, statePath string) error {
	if err := os.Rename(partPath, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	os.Remove(statePath)
	return nil
}

func (c *Client) chunkSize(size int64) int64 {
	per := (size + int64(c.connections) - 1) / int64(c.connections)
	if per < c.minChunkSize {
		per = c.minChunkSize
	}
	return per
}

// probe asks the server for the artifact size and range support. Hosts that
// reject HEAD degrade to a single-stream fetch of unknown size.
func (c *Client) probe(ctx context.Context, rawURL string) (int64, bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, rawURL)
	if err != nil {
		return -1, false, stackuperrors.NewDownloadError(rawURL, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return -1, false, stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
			return -1, false, nil
		}
		return -1, false, stackuperrors.NewDownloadError(rawURL, resp.StatusCode, nil)
	}

	size := resp.ContentLength
	rangeOK := size > 0 && strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	return size, rangeOK, nil
}

// fetchChunks downloads every pending chunk with a bounded worker pool, each
// worker writing at its own offset, persisting the control file as chunks
// finish.
func (c *Client) fetchChunks(ctx context.Context, rawURL, partPath, statePath string, st *fetchState) error {
	f, err := os.OpenFile(partPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer f.Close()

	if err := f.Truncate(st.Size); err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}

	pending := st.pending()
	if len(pending) == 0 {
		return nil
	}

	workers := c.connections
	if workers > len(pending) {
		workers = len(pending)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var stateMu sync.Mutex
	markDone := func(chunk int) {
		stateMu.Lock()
		defer stateMu.Unlock()
		st.Completed[chunk] = true
		if err := st.save(statePath); err != nil {
			c.logger.WithFields(map[string]any{"path": statePath}).Warn("control file write failed: " + err.Error())
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				start, end := st.chunkRange(chunk)
				if err := c.fetchRange(fetchCtx, rawURL, f, start, end); err != nil {
					fail(err)
					return
				}
				markDone(chunk)
			}
		}()
	}

	for _, chunk := range pending {
		select {
		case jobs <- chunk:
		case <-fetchCtx.Done():
		}
		if fetchCtx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	return f.Sync()
}

func (c *Client) fetchRange(ctx context.Context, rawURL string, f *os.File, start, end int64) error {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return stackuperrors.NewDownloadError(rawURL, resp.StatusCode, nil)
	}

	if _, err := io.Copy(io.NewOffsetWriter(f, start), resp.Body); err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	return nil
}

// appendFrom resumes a bare partial file from its current byte offset.
func (c *Client) appendFrom(ctx context.Context, rawURL, partPath string, offset int64) error {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return stackuperrors.NewDownloadError(rawURL, 0, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			return stackuperrors.NewDownloadError(rawURL, 0, err)
		}
		return f.Sync()
	case http.StatusOK:
		// Server ignored the range; rewrite from scratch.
		f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return stackuperrors.NewDownloadError(rawURL, 0, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			return stackuperrors.NewDownloadError(rawURL, 0, err)
		}
		return f.Sync()
	default:
		return stackuperrors.NewDownloadError(rawURL, resp.StatusCode, nil)
	}
}

func (c *Client) fetchSingle(ctx context.Context, rawURL, partPath string) error {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return stackuperrors.NewDownloadError(rawURL, resp.StatusCode, nil)
	}

	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return stackuperrors.NewDownloadError(rawURL, 0, err)
	}
	return f.Sync()
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" && c.hostAuthorized(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) hostAuthorized(u *url.URL) bool {
	host := u.Hostname()
	for _, suffix := range c.authHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
