package uploader

import (
	"context"
	"io"
)

// SendForTest exposes send so tests can feed the body from
// an arbitrary reader.
func SendForTest(
	ctx context.Context,
	u *Uploader,
	src io.Reader,
	size int64,
	name string,
	target Target,
	sha1Hex string,
	rep Reporter,
) (*Result, error) {
	return u.send(ctx, src, size, name, target, sha1Hex, rep)
}
