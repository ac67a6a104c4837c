package imaging

import (
	"context"
	"fmt"
	"io"
	"os"
)

// directCopy reads the source in fixed-size chunks and writes them to dest.
// Chunks that are entirely zero are skipped with a forward seek instead of a
// write, producing a sparse file on filesystems that support holes while
// keeping the logical byte content identical to a full copy. Progress is
// emitted synchronously after each chunk; the copy loop itself controls the
// timing, so no monitor goroutine is involved.
func directCopy(ctx context.Context, srcPath, dstPath string, bufSize int, onProgress ProgressFunc) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, &DeviceAccessError{Path: srcPath, Cause: err}
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, &DeviceAccessError{Path: dstPath, Cause: err}
	}

	buf := make([]byte, bufSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			dst.Close()
			return total, err
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			if isZero(chunk) {
				if _, err := dst.Seek(int64(n), io.SeekCurrent); err != nil {
					dst.Close()
					return total, &DeviceAccessError{Path: dstPath, Cause: err}
				}
			} else {
				if _, err := dst.Write(chunk); err != nil {
					dst.Close()
					return total, &DeviceAccessError{Path: dstPath, Cause: err}
				}
			}
			total += int64(n)
			if onProgress != nil {
				onProgress(total)
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			dst.Close()
			return total, &DeviceAccessError{Path: srcPath, Cause: readErr}
		}
	}

	// A trailing zero chunk leaves the file short; truncate up to the full
	// logical length so the hole is materialized.
	if err := dst.Truncate(total); err != nil {
		dst.Close()
		return total, &DeviceAccessError{Path: dstPath, Cause: err}
	}
	if err := dst.Close(); err != nil {
		return total, &DeviceAccessError{Path: dstPath, Cause: fmt.Errorf("close: %w", err)}
	}
	return total, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
