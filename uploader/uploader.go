package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBlockSize is the body write size used when
	// Config.BlockSize is zero.
	DefaultBlockSize = 32 * 1024

	// DefaultTimeout bounds each phase of an upload when
	// Config.Timeout is zero.
	DefaultTimeout = 10 * time.Minute

	contentTypeAuto = "b2/x-auto"
	uploaderVersion = "1"
)

// ErrUploadFailed is matched by every error Upload returns.
var ErrUploadFailed = errors.New("upload failed")

// ErrResponse marks failures that happen once the whole
// body has been written: the round trip itself, reading the
// answer or decoding it.
var ErrResponse = errors.New("processing upload response")

var errTimeout = errors.New("upload phase timed out")

// Target is the upload URL and token obtained from
// b2_get_upload_url.
type Target struct {
	URL       string
	AuthToken string
}

// Reporter receives upload progress. Calls are made from a
// single goroutine, one at a time, and all of them happen
// before Upload returns.
type Reporter interface {
	// Progress is called after each block is written with
	// the estimated fraction of the transfer done.
	Progress(fraction float64)

	// Finalizing is called once the whole body has been
	// written, before waiting for the response.
	Finalizing()
}

type nopReporter struct{}

func (nopReporter) Progress(float64) {}

func (nopReporter) Finalizing() {}

// Result is the file record returned by b2_upload_file.
type Result struct {
	FileID        string `json:"fileId"`
	FileName      string `json:"fileName"`
	AccountID     string `json:"accountId"`
	BucketID      string `json:"bucketId"`
	ContentLength int64  `json:"contentLength"`
	ContentSha1   string `json:"contentSha1"`
	ContentType   string `json:"contentType"`
}

// RemoteError is a non-2xx answer to the upload request.
// Body is kept exactly as the service sent it.
type RemoteError struct {
	StatusCode int
	Body       string
}

// Error returns the remote body verbatim.
func (e *RemoteError) Error() string {
	return e.Body
}

// Is reports RemoteError as an upload failure.
func (e *RemoteError) Is(target error) bool {
	return target == ErrUploadFailed
}

// Config holds the settings of an Uploader.
type Config struct {
	// BlockSize is the number of bytes read from the file
	// and written to the request body per step. Zero
	// selects DefaultBlockSize.
	BlockSize int

	// Timeout bounds the send phase (per block written)
	// and the receive phase (from the end of the body to
	// the end of the response). It applies to HTTPClient
	// too. Zero selects DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client used to send the
	// request. When nil a client with a response header
	// timeout of Timeout is built.
	HTTPClient *http.Client
}

// Uploader sends files to B2 upload URLs.
type Uploader struct {
	blockSize int
	timeout   time.Duration
	client    *http.Client
}

// New validates cfg and returns an Uploader.
func New(cfg Config) (*Uploader, error) {
	const errCtx = "creating uploader"

	if cfg.BlockSize < 0 {
		return nil, fmt.Errorf(
			"%s: block size must be positive, got %d",
			errCtx, cfg.BlockSize,
		)
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf(
			"%s: timeout must be positive, got %s",
			errCtx, cfg.Timeout,
		)
	}

	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
		tr.ResponseHeaderTimeout = cfg.Timeout
		client = &http.Client{Transport: tr}
	}

	return &Uploader{
		blockSize: cfg.BlockSize,
		timeout:   cfg.Timeout,
		client:    client,
	}, nil
}

// Upload streams the file at path to target and returns the
// remote file record. sha1Hex is sent verbatim as the
// content checksum. rep may be nil.
//
// Exactly one request is made. Every failure matches
// ErrUploadFailed; a non-2xx answer is a *RemoteError.
func (u *Uploader) Upload(
	ctx context.Context,
	path string,
	target Target,
	sha1Hex string,
	rep Reporter,
) (*Result, error) {
	const errCtx = "uploading file"

	fi, err := os.Open(path) //nolint:gosec // path is caller-provided by design
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", errCtx, ErrUploadFailed, err)
	}

	defer fi.Close() //nolint:errcheck // read-only handle

	st, err := fi.Stat()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", errCtx, ErrUploadFailed, err)
	}

	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf(
			"%s: %w: %s is not a regular file",
			errCtx, ErrUploadFailed, path,
		)
	}

	res, err := u.send(
		ctx, fi, st.Size(), filepath.Base(path),
		target, sha1Hex, rep,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return res, nil
}

// send posts size bytes read from src. The body is fed
// through a pipe by a writer goroutine while the request
// exchange runs alongside it.
func (u *Uploader) send(
	ctx context.Context,
	src io.Reader,
	size int64,
	name string,
	target Target,
	sha1Hex string,
	rep Reporter,
) (*Result, error) {
	if rep == nil {
		rep = nopReporter{}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// The watchdog is re-armed after every block and once
	// more for the receive phase; firing cancels the
	// request, which also aborts a stalled response body.
	watchdog := time.AfterFunc(u.timeout, func() {
		cancel(errTimeout)
	})
	defer watchdog.Stop()

	var (
		body   io.Reader = http.NoBody
		closer io.Closer
		pw     *io.PipeWriter
	)

	// A zero ContentLength with a non-nil body would be
	// sent chunked, so empty files use http.NoBody.
	if size > 0 {
		var pr *io.PipeReader

		pr, pw = io.Pipe()
		body, closer = pr, pr
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, target.URL, body,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: build request: %w", ErrUploadFailed, err,
		)
	}

	req.ContentLength = size
	req.Header.Set("Authorization", target.AuthToken)
	req.Header.Set("Content-Type", contentTypeAuto)
	req.Header.Set("X-Bz-File-Name", EscapeFileName(name))
	req.Header.Set("X-Bz-Content-Sha1", sha1Hex)
	// Assigned directly to keep the key's spelling on the
	// wire; Set would canonicalize it to "Uploaderver".
	req.Header["X-Bz-Info-UploaderVer"] = []string{uploaderVersion}

	slog.Debug(
		"starting upload",
		"url", target.URL,
		"file", name,
		"size", size,
		"sha1", sha1Hex,
	)

	var (
		g    errgroup.Group
		res  *Result
		sent atomic.Bool
	)

	if pw != nil {
		g.Go(func() error {
			return u.writeBody(pw, src, size, rep, watchdog, &sent)
		})
	} else {
		sent.Store(true)
		rep.Finalizing()
	}

	g.Go(func() error {
		var err error

		res, err = u.exchange(req, closer, watchdog, &sent)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return res, nil
}

// writeBody copies src into pw one block at a time and
// reports progress after each block. The watchdog is
// re-armed after every block and once more when the body is
// complete, handing it over to the receive phase.
func (u *Uploader) writeBody(
	pw *io.PipeWriter,
	src io.Reader,
	size int64,
	rep Reporter,
	watchdog *time.Timer,
	sent *atomic.Bool,
) error {
	buf := make([]byte, u.blockSize)
	total := size / int64(u.blockSize)

	var written int64

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := pw.Write(buf[:n]); werr != nil {
				// The exchange side stopped reading; its
				// outcome decides the result.
				if errors.Is(werr, io.ErrClosedPipe) {
					return nil
				}

				return fmt.Errorf(
					"%w: writing block: %w",
					ErrUploadFailed, werr,
				)
			}

			watchdog.Reset(u.timeout)

			written++
			rep.Progress(Fraction(written, total))
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			pw.CloseWithError(err)

			return fmt.Errorf(
				"%w: reading file: %w", ErrUploadFailed, err,
			)
		}
	}

	watchdog.Reset(u.timeout)
	sent.Store(true)

	_ = pw.Close() // always nil

	rep.Finalizing()

	return nil
}

// exchange sends req and decodes the answer. The body
// pipe, when present, is closed as soon as the round trip
// ends so a blocked writer is released. The watchdog is
// stopped once the response has been read in full. Errors
// raised after the body was sent also match ErrResponse.
func (u *Uploader) exchange(
	req *http.Request,
	body io.Closer,
	watchdog *time.Timer,
	sent *atomic.Bool,
) (*Result, error) {
	resp, err := u.client.Do(req) //nolint:gosec // URL comes from b2_get_upload_url

	if body != nil {
		_ = body.Close() // always nil
	}

	if err != nil {
		if cause := context.Cause(req.Context()); cause != nil {
			err = cause
		}

		if sent.Load() {
			return nil, fmt.Errorf(
				"%w: %w: send request: %w",
				ErrUploadFailed, ErrResponse, err,
			)
		}

		return nil, fmt.Errorf(
			"%w: send request: %w", ErrUploadFailed, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)

	watchdog.Stop()

	if err != nil {
		if cause := context.Cause(req.Context()); cause != nil {
			err = cause
		}

		return nil, fmt.Errorf(
			"%w: %w: read response: %w",
			ErrUploadFailed, ErrResponse, err,
		)
	}

	slog.Debug(
		"upload response",
		"status", resp.Status,
		"body", string(rb),
	)

	if resp.StatusCode < http.StatusOK ||
		resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			Body:       string(rb),
		}
	}

	var res Result
	if err := json.Unmarshal(rb, &res); err != nil {
		return nil, fmt.Errorf(
			"%w: %w: decode response: %w",
			ErrUploadFailed, ErrResponse, err,
		)
	}

	if res.FileID == "" {
		return nil, fmt.Errorf(
			"%w: %w: response has no fileId: %s",
			ErrUploadFailed, ErrResponse, strconv.Quote(string(rb)),
		)
	}

	return &res, nil
}

// Fraction estimates upload progress after blocksWritten
// blocks when the file holds totalBlocks whole blocks. A
// file smaller than one block reports 1. The estimate
// ignores the trailing partial block, so it can reach 1
// before the last write; it never exceeds 1.
func Fraction(blocksWritten, totalBlocks int64) float64 {
	if totalBlocks <= 0 {
		return 1
	}

	f := float64(blocksWritten) / float64(totalBlocks)
	if f > 1 {
		return 1
	}

	return f
}
