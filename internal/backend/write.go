package backend

import (
	"errors"
	"io"
	"net"
)

// MaxFragmentLen is the maximum plaintext size of a TLS record.
const MaxFragmentLen = 16384

// WriteFragmented writes buf to w using chunks of at most max bytes. If a
// chunk would block, or writes zero bytes, after we have already written
// some bytes, it returns the number of bytes written so far and no error,
// and the caller should resume from there. A would block condition before
// writing anything is returned as ErrWantWrite.
func WriteFragmented(w io.Writer, buf []byte, max int) (int, error) {
	if max <= 0 {
		max = MaxFragmentLen
	}
	var written int
	for written < len(buf) {
		chunk := buf[written:]
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		count, err := w.Write(chunk)
		written += count
		if err != nil {
			if isWriteWouldBlock(err) {
				if written > 0 {
					return written, nil
				}
				return 0, ErrWantWrite
			}
			return written, err
		}
		if count <= 0 {
			if written > 0 {
				return written, nil
			}
			return 0, ErrWantWrite
		}
	}
	return written, nil
}

func isWriteWouldBlock(err error) bool {
	if IsWouldBlock(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
