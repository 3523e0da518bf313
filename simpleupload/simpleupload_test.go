package simpleupload_test

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // B2 content checksums are SHA-1
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/b2simpleupload/b2"
	"github.com/byte4ever/b2simpleupload/simpleupload"
	"github.com/byte4ever/b2simpleupload/uploader"
)

const (
	account   = "acct"
	appKey    = "secret"
	authToken = "api-token"
	upToken   = "upload-token"
	bucketID  = "bkt-42"
	fileID    = "4_z27c88f1d182b150646ff0b16_f1"
)

// fakeService emulates the B2 endpoints used by a run.
type fakeService struct {
	apiURL       string
	authStatus   int
	uploadStatus int
	uploadBody   string
	hits         atomic.Int32
	uploaded     atomic.Pointer[[]byte]
}

func (fs *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.hits.Add(1)

	switch r.URL.Path {
	case "/b2api/v1/b2_authorize_account":
		if fs.authStatus != 0 {
			w.WriteHeader(fs.authStatus)
			_, _ = io.WriteString(w, `{"code":"unauthorized"}`)

			return
		}

		user, pass, _ := r.BasicAuth()
		if user != account || pass != appKey {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{
			"accountId":          account,
			"authorizationToken": authToken,
			"apiUrl":             fs.apiURL,
		})

	case "/b2api/v1/b2_list_buckets":
		_, _ = io.WriteString(
			w,
			`{"buckets":[{"bucketId":"`+bucketID+`",`+
				`"bucketName":"backups"}]}`,
		)

	case "/b2api/v1/b2_get_upload_url":
		_ = json.NewEncoder(w).Encode(map[string]string{
			"bucketId":           bucketID,
			"uploadUrl":          fs.apiURL + "/upload",
			"authorizationToken": upToken,
		})

	case "/upload":
		fs.serveUpload(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fs *fakeService) serveUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	fs.uploaded.Store(&body)

	if fs.uploadStatus != 0 {
		w.WriteHeader(fs.uploadStatus)
		_, _ = io.WriteString(w, fs.uploadBody)

		return
	}

	sum := sha1.Sum(body) //nolint:gosec // B2 content checksum
	if r.Header.Get("Authorization") != upToken ||
		r.Header.Get("X-Bz-Content-Sha1") != hex.EncodeToString(sum[:]) ||
		r.ContentLength != int64(len(body)) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"bad_request"}`)

		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"fileId":        fileID,
		"fileName":      r.Header.Get("X-Bz-File-Name"),
		"contentLength": len(body),
		"contentSha1":   hex.EncodeToString(sum[:]),
	})
}

func newService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()

	fs := &fakeService{}
	ts := httptest.NewServer(fs)
	t.Cleanup(ts.Close)

	fs.apiURL = ts.URL

	return fs, ts
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()

	pa := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(pa, data, 0o600))

	return pa
}

func config(ts *httptest.Server, path string, out io.Writer) simpleupload.Config {
	return simpleupload.Config{
		AccountID:      account,
		ApplicationKey: appKey,
		BucketName:     "backups",
		FilePath:       path,
		APIURL:         ts.URL,
		Out:            out,
		HTTPClient:     ts.Client(),
	}
}

func TestRun_uploads_file(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, pa, &out),
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		"Getting Auth Token... Done.\n"+
			"Getting Bucket ID...  Done.  Bucket ID: "+bucketID+"\n"+
			"Getting Upload URL... Done.\n"+
			"Uploading File: \n"+
			"100.00%\n"+
			"Finalizing Upload... Done.  File ID: "+fileID+"\n"+
			"\n"+
			"All Done!\n",
		out.String(),
	)
	assert.Equal(t, []byte("hello"), *fs.uploaded.Load())
}

func TestRun_empty_file(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)
	pa := writeFile(t, nil)

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, pa, &out),
	)

	require.NoError(t, err)
	assert.Contains(
		t,
		out.String(),
		"Uploading File: \nFinalizing Upload... Done.  File ID: "+fileID,
	)
	assert.Empty(t, *fs.uploaded.Load())
}

func TestRun_multi_block_file(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)

	data := make([]byte, 10*1024+7)
	for i := range data {
		data[i] = byte(i % 241)
	}

	pa := writeFile(t, data)

	var out bytes.Buffer

	cfg := config(ts, pa, &out)
	cfg.DigestBlockSize = 512
	cfg.UploadBlockSize = 1024

	err := simpleupload.Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, data, *fs.uploaded.Load())
	assert.Contains(t, out.String(), "All Done!")
}

func TestRun_missing_file(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(),
		config(ts, filepath.Join(t.TempDir(), "missing"), &out),
	)

	require.ErrorIs(t, err, simpleupload.ErrFileNotFound)
	assert.Equal(t, "File to upload does not exist!\n", out.String())
	assert.Zero(t, fs.hits.Load())
}

func TestRun_directory_is_not_a_file(t *testing.T) {
	t.Parallel()

	_, ts := newService(t)

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, t.TempDir(), &out),
	)

	assert.ErrorIs(t, err, simpleupload.ErrFileNotFound)
}

func TestRun_authorize_failure_prints_body(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)
	fs.authStatus = http.StatusUnauthorized
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, pa, &out),
	)

	var ae *b2.APIError

	require.ErrorAs(t, err, &ae)
	assert.Equal(
		t,
		"Getting Auth Token... {\"code\":\"unauthorized\"}\n",
		out.String(),
	)
	assert.Equal(t, int32(1), fs.hits.Load())
}

func TestRun_bucket_not_found(t *testing.T) {
	t.Parallel()

	_, ts := newService(t)
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	cfg := config(ts, pa, &out)
	cfg.BucketName = "nope"

	err := simpleupload.Run(context.Background(), cfg)

	require.ErrorIs(t, err, b2.ErrBucketNotFound)
	assert.Contains(t, out.String(), "Getting Bucket ID... ")
	assert.Contains(t, out.String(), `"nope"`)
	assert.NotContains(t, out.String(), "Getting Upload URL")
}

func TestRun_upload_rejected_prints_body(t *testing.T) {
	t.Parallel()

	const remote = `{"code":"bad_auth_token"}`

	fs, ts := newService(t)
	fs.uploadStatus = http.StatusBadRequest
	fs.uploadBody = remote
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, pa, &out),
	)

	require.ErrorIs(t, err, uploader.ErrUploadFailed)
	assert.Contains(
		t,
		out.String(),
		"Finalizing Upload... "+remote+"\n",
	)
	assert.NotContains(t, out.String(), "All Done!")
}

func TestRun_malformed_upload_answer(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)
	fs.uploadStatus = http.StatusOK
	fs.uploadBody = "not json"
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	err := simpleupload.Run(
		context.Background(), config(ts, pa, &out),
	)

	require.ErrorIs(t, err, uploader.ErrResponse)
	assert.Contains(
		t,
		out.String(),
		"Finalizing Upload... Error while processing upload: ",
	)
	assert.NotContains(t, out.String(), "Failed to Upload file")
}

func TestRun_local_read_failure_wording(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	con := simpleupload.NewConsoleForTest(&out, false)

	err := simpleupload.FailForTest(
		con, "ctx", fmt.Errorf("%w: reading file: boom", uploader.ErrUploadFailed),
	)

	require.ErrorIs(t, err, uploader.ErrUploadFailed)
	assert.Equal(
		t,
		"Failed to Upload file: upload failed: reading file: boom\n",
		out.String(),
	)
}

func TestRun_invalid_credentials_config(t *testing.T) {
	t.Parallel()

	fs, ts := newService(t)
	pa := writeFile(t, []byte("hello"))

	var out bytes.Buffer

	cfg := config(ts, pa, &out)
	cfg.ApplicationKey = ""

	err := simpleupload.Run(context.Background(), cfg)

	require.ErrorContains(t, err, "application key must be set")
	assert.Contains(t, out.String(), "application key must be set")
	assert.Zero(t, fs.hits.Load())
}

func TestConsole_terminal_progress(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	con := simpleupload.NewConsoleForTest(&out, true)

	con.Progress(0.25)
	con.Progress(0.5)
	con.Progress(1)
	con.Finalizing()

	assert.Equal(
		t,
		"\r25.00%  \r50.00%  \r100.00%  Finalizing Upload... ",
		out.String(),
	)
}

func TestConsole_plain_progress(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	con := simpleupload.NewConsoleForTest(&out, false)

	con.Progress(0.25)
	con.Progress(0.5)
	con.Finalizing()

	assert.Equal(t, "50.00%\nFinalizing Upload... ", out.String())
}

func TestConsole_implements_reporter(t *testing.T) {
	t.Parallel()

	var _ uploader.Reporter = simpleupload.NewConsoleForTest(
		io.Discard, false,
	)
}
