package ingest

import (
	"errors"
	"io"
	"os"
)

var errTooLarge = errors.New("upload exceeds configured maximum size")

// streamWithLimit copies src to a new file at destPath, aborting with
// errTooLarge once the accumulated byte count exceeds maxBytes, mirroring
// the per-chunk size check in original_source/backend/src/lib.rs's
// upload_file.
func streamWithLimit(src io.Reader, destPath string, maxBytes int64) (int64, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	limited := io.LimitReader(src, maxBytes+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, errTooLarge
	}
	return n, nil
}
