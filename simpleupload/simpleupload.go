package simpleupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/byte4ever/b2simpleupload/b2"
	"github.com/byte4ever/b2simpleupload/digester"
	"github.com/byte4ever/b2simpleupload/uploader"
)

// ErrFileNotFound is returned when FilePath does not name
// an existing regular file.
var ErrFileNotFound = errors.New("file to upload does not exist")

// Config holds all settings for one upload run.
type Config struct {
	// AccountID is the B2 account (or key) identifier.
	AccountID string

	// ApplicationKey is the secret matching AccountID.
	ApplicationKey string

	// BucketName names the destination bucket.
	BucketName string

	// FilePath is the local file to upload. The remote
	// file name is its base name.
	FilePath string

	// APIURL overrides b2.DefaultAPIURL.
	APIURL string

	// Out receives operator messages. Defaults to
	// os.Stdout.
	Out io.Writer

	// HTTPClient overrides the clients used for the API
	// calls and the upload.
	HTTPClient *http.Client

	// DigestBlockSize is the hashing block size; zero
	// selects digester.DefaultBlockSize.
	DigestBlockSize int

	// UploadBlockSize is the body write size; zero
	// selects uploader.DefaultBlockSize.
	UploadBlockSize int

	// Timeout bounds the send and receive phases of the
	// upload; zero selects uploader.DefaultTimeout.
	Timeout time.Duration
}

// Run performs one authorize, resolve bucket, get upload
// URL and upload sequence. Progress and failures are
// written to cfg.Out.
//
//nolint:funlen // linear call chain
func Run(ctx context.Context, cfg Config) error {
	const errCtx = "uploading to b2"

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	con := newConsole(out)

	st, err := os.Stat(cfg.FilePath)
	if err != nil || !st.Mode().IsRegular() {
		con.println("File to upload does not exist!")

		return fmt.Errorf(
			"%s: %w: %s", errCtx, ErrFileNotFound, cfg.FilePath,
		)
	}

	dg, err := digester.New(digester.Config{
		BlockSize: cfg.DigestBlockSize,
	})
	if err != nil {
		return con.fail(errCtx, err)
	}

	up, err := uploader.New(uploader.Config{
		BlockSize:  cfg.UploadBlockSize,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return con.fail(errCtx, err)
	}

	cl, err := b2.NewClient(b2.Config{
		APIURL:         cfg.APIURL,
		AccountID:      cfg.AccountID,
		ApplicationKey: cfg.ApplicationKey,
		HTTPClient:     cfg.HTTPClient,
	})
	if err != nil {
		return con.fail(errCtx, err)
	}

	con.print("Getting Auth Token... ")

	ss, err := cl.Authorize(ctx)
	if err != nil {
		return con.fail(errCtx, err)
	}

	con.println("Done.")

	con.print("Getting Bucket ID... ")

	bucketID, err := ss.BucketID(ctx, cfg.BucketName)
	if err != nil {
		return con.fail(errCtx, err)
	}

	con.printf(" Done.  Bucket ID: %s\n", bucketID)

	con.print("Getting Upload URL... ")

	uu, err := ss.GetUploadURL(ctx, bucketID)
	if err != nil {
		return con.fail(errCtx, err)
	}

	con.println("Done.")
	con.println("Uploading File: ")

	sum, err := dg.Calculate(cfg.FilePath)
	if err != nil {
		con.printf("Failed to hash file: %v\n", err)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Debug(
		"file hashed",
		"path", cfg.FilePath,
		"sha1", sum,
		"size", st.Size(),
	)

	res, err := up.Upload(
		ctx,
		cfg.FilePath,
		uploader.Target{
			URL:       uu.UploadURL,
			AuthToken: uu.AuthorizationToken,
		},
		sum,
		con,
	)
	if err != nil {
		return con.fail(errCtx, err)
	}

	con.printf("Done.  File ID: %s\n", res.FileID)
	con.println("")
	con.println("All Done!")

	return nil
}

// fail prints err for the operator and wraps it. Remote
// error bodies are printed verbatim.
func (c *console) fail(errCtx string, err error) error {
	var (
		ae *b2.APIError
		re *uploader.RemoteError
	)

	switch {
	case errors.As(err, &ae):
		c.println(ae.Body)
	case errors.As(err, &re):
		c.println(re.Body)
	case errors.Is(err, uploader.ErrResponse):
		c.printf("Error while processing upload: %v\n", err)
	case errors.Is(err, uploader.ErrUploadFailed):
		c.printf("Failed to Upload file: %v\n", err)
	default:
		c.println(err.Error())
	}

	return fmt.Errorf("%s: %w", errCtx, err)
}
