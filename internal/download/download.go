// Package download implements the downloader (§4.5): URL-based bottle
// retrieval with OCI bearer-token authentication, segmented parallel
// ranged transfer when the server supports it, single-stream fallback
// otherwise, and streaming SHA-256 verification of the result when an
// expected checksum is given.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dimaosipa/velo/internal/config"
	"github.com/dimaosipa/velo/internal/httputil"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the segmented-download chunk size (§4.5, 1 MiB).
const DefaultChunkSize = 1 << 20

// DefaultMaxConcurrentStreams is the default batch size for segmented
// chunk workers (§4.5).
const DefaultMaxConcurrentStreams = 8

// verifyBufferSize is the buffer size used for streaming SHA-256
// verification (§4.5/§4.6, "1 MiB buffer").
const verifyBufferSize = 1 << 20

// Progress is invoked periodically with bytes transferred so far and the
// total size when known (0 if unknown, e.g. a chunked-transfer response
// without Content-Length).
type Progress func(transferred, total int64)

// Options configures a single Download call.
type Options struct {
	ExpectedSHA256       string
	Progress             Progress
	ChunkSize            int64
	MaxConcurrentStreams int
	Client               *http.Client
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxConcurrentStreams <= 0 {
		o.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	if o.Client == nil {
		clientOpts := httputil.DefaultOptions()
		clientOpts.Timeout = config.APITimeout()
		o.Client = httputil.NewSecureClient(clientOpts)
	}
	return o
}

// Download retrieves rawURL to destination, verifying its SHA-256 when
// ExpectedSHA256 is set. It chooses segmented parallel transfer, OCI
// bearer-token auth, or a plain single-stream GET according to §4.5's
// selection policy.
func Download(ctx context.Context, rawURL, destination string, opts Options) error {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, config.DownloadTimeout())
	defer cancel()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("parsing url: %w", err)}
	}

	var authorization string
	if isOCIRegistry(parsed.Hostname()) {
		authorization, err = resolveOCIAuthorization(ctx, opts.Client, rawURL)
		if err != nil {
			return err
		}
	}

	size, acceptsRanges, err := probe(ctx, opts.Client, rawURL, authorization)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("creating destination directory: %w", err)}
	}

	if acceptsRanges && size > 0 {
		if err := downloadSegmented(ctx, opts.Client, rawURL, authorization, destination, size, opts); err != nil {
			return err
		}
	} else {
		if err := downloadSingleStream(ctx, opts.Client, rawURL, authorization, destination, opts); err != nil {
			return err
		}
	}

	if opts.ExpectedSHA256 != "" {
		return verifyAndCleanup(rawURL, destination, opts.ExpectedSHA256)
	}
	return nil
}

// probe issues a HEAD request and reports the advertised content length
// and whether the server accepts byte-range requests.
func probe(ctx context.Context, client *http.Client, rawURL, authorization string) (size int64, acceptsRanges bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, false, fmt.Errorf("HEAD %s: status %s", rawURL, resp.Status)
	}

	size = resp.ContentLength
	acceptsRanges = strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
	return size, acceptsRanges, nil
}

// downloadSingleStream performs a normal GET to a temporary file, moved
// atomically to destination on success.
func downloadSingleStream(ctx context.Context, client *http.Client, rawURL, authorization, destination string, opts Options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: err}
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("GET returned status %s", resp.Status)}
	}

	tmpPath := destination + ".download-tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("creating temp file: %w", err)}
	}

	var transferred int64
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	reader := io.Reader(resp.Body)
	if opts.Progress != nil {
		reader = &progressReader{r: resp.Body, onRead: func(n int64) {
			transferred += n
			opts.Progress(transferred, total)
		}}
	}

	_, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("writing response body: %w", copyErr)}
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("closing temp file: %w", closeErr)}
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("moving into place: %w", err)}
	}
	return nil
}

// progressReader wraps an io.Reader, invoking onRead after every
// successful Read with the number of bytes just consumed.
type progressReader struct {
	r      io.Reader
	onRead func(n int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.onRead(int64(n))
	}
	return n, err
}

// downloadSegmented partitions [0, size) into chunks, fetches them with a
// bounded worker pool, and concatenates them in index order (§4.5).
func downloadSegmented(ctx context.Context, client *http.Client, rawURL, authorization, destination string, size int64, opts Options) error {
	tmpDir, err := os.MkdirTemp(filepath.Dir(destination), ".velo-download-*")
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("creating chunk staging directory: %w", err)}
	}
	defer os.RemoveAll(tmpDir)

	type chunk struct {
		index    int
		lo, hi   int64
		tmpPath  string
	}
	var chunks []chunk
	for lo, i := int64(0), 0; lo < size; lo, i = lo+opts.ChunkSize, i+1 {
		hi := lo + opts.ChunkSize - 1
		if hi >= size {
			hi = size - 1
		}
		chunks = append(chunks, chunk{index: i, lo: lo, hi: hi, tmpPath: filepath.Join(tmpDir, fmt.Sprintf("chunk-%06d", i))})
	}

	var transferred int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrentStreams)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := fetchChunk(gctx, client, rawURL, authorization, c.lo, c.hi, c.tmpPath); err != nil {
				return err
			}
			n := atomic.AddInt64(&transferred, c.hi-c.lo+1)
			if opts.Progress != nil {
				opts.Progress(n, size)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &DownloadFailed{URL: rawURL, Err: err}
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	tmpPath := destination + ".download-tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("creating assembled file: %w", err)}
	}
	for _, c := range chunks {
		in, err := os.Open(c.tmpPath)
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("reopening chunk %d: %w", c.index, err)}
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			out.Close()
			os.Remove(tmpPath)
			return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("assembling chunk %d: %w", c.index, copyErr)}
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("closing assembled file: %w", err)}
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("moving into place: %w", err)}
	}
	return nil
}

// fetchChunk issues a single Range GET for [lo, hi] and writes the body to
// tmpPath. A non-206 response fails the chunk.
func fetchChunk(ctx context.Context, client *http.Client, rawURL, authorization string, lo, hi int64, tmpPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", lo, hi))
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("range %d-%d: %w", lo, hi, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("range %d-%d: expected 206, got %s", lo, hi, resp.Status)
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// verifyAndCleanup streams destination through SHA-256 and deletes it on
// mismatch.
func verifyAndCleanup(rawURL, destination, expectedSHA256 string) error {
	actual, err := sha256File(destination)
	if err != nil {
		return &DownloadFailed{URL: rawURL, Err: fmt.Errorf("verifying checksum: %w", err)}
	}
	if !strings.EqualFold(actual, expectedSHA256) {
		os.Remove(destination)
		return &ChecksumMismatch{URL: rawURL, Expected: expectedSHA256, Actual: actual}
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, verifyBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
