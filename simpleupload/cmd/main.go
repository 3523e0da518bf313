// Command b2simpleupload uploads one local file to a Backblaze B2 bucket.
//
// Usage:
//
//	b2simpleupload <account id> <application key> <bucket> <file path>
//
// It takes no flags. It exits with status 0 once the file is stored and 1 on
// any failure, including malformed arguments.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/byte4ever/b2simpleupload/simpleupload"
)

func main() {
	// Interrupting the run aborts the upload, which is
	// reported like any other failure.
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt,
	)

	err := run(ctx, os.Args, os.Stdout, os.Stderr)

	stop()

	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run parses args (program name first) and performs the
// upload. Parse failures, -h included, are returned as
// errors rather than exiting.
func run(
	ctx context.Context,
	args []string,
	stdout io.Writer,
	stderr io.Writer,
) error {
	const errCtx = "running b2simpleupload"

	name := filepath.Base(args[0])

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(
			fs.Output(),
			"Usage: %s <account id> <application key>"+
				" <bucket> <file path>\n",
			name,
		)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if fs.NArg() != 4 {
		fs.Usage()

		return fmt.Errorf(
			"%s: expected 4 arguments, got %d",
			errCtx, fs.NArg(),
		)
	}

	pos := fs.Args()

	if err := simpleupload.Run(ctx, simpleupload.Config{
		AccountID:      pos[0],
		ApplicationKey: pos[1],
		BucketName:     pos[2],
		FilePath:       pos[3],
		Out:            stdout,
	}); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
