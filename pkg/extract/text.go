package extract

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
)

var errInvalidUTF8 = errors.New("content is not valid UTF-8")

// decompress wraps body according to comp. An empty gzip stream reads as
// empty content.
func decompress(body io.Reader, comp Compression) (io.Reader, func(), error) {
	if comp != Gzip {
		return body, func() {}, nil
	}
	zr, err := gzip.NewReader(body)
	if errors.Is(err, io.EOF) {
		return strings.NewReader(""), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return zr, func() { _ = zr.Close() }, nil
}

// extractText returns the first lim.Lines lines of a delimited or plain
// text body, never more than lim.Bytes bytes.
func extractText(body io.Reader, comp Compression, lim Limits) (string, error) {
	r, done, err := decompress(body, comp)
	if err != nil {
		return "", err
	}
	defer done()

	buf, err := io.ReadAll(io.LimitReader(r, int64(lim.Bytes)))
	if err != nil {
		// Ranged reads cut compressed streams short; keep what inflated.
		if comp != Gzip || !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", err
		}
	}

	buf = dropPartialRune(buf)
	if !utf8.Valid(buf) {
		return "", &ParseError{Family: Text, Err: errInvalidUTF8}
	}

	return TrimToBytes(firstLines(string(buf), lim.Lines), lim.Bytes), nil
}

// firstLines keeps at most n newline-terminated lines of s. n <= 0 keeps
// everything.
func firstLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	end := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(s[end:], '\n')
		if j < 0 {
			return s
		}
		end += j + 1
	}
	return s[:end-1]
}
