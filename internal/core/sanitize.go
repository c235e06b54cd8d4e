package core

import (
	"bufio"
	"errors"
	"io"
	"unicode/utf8"
)

// utf8Sanitizer replaces bytes that are not valid UTF-8 with '?' so that
// exports in legacy encodings still load. Valid runes pass through unchanged.
type utf8Sanitizer struct {
	r        *bufio.Reader
	replaced int
}

func newUTF8Sanitizer(r *bufio.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		r, size, err := s.r.ReadRune()
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			s.replaced++
			continue
		}
		if utf8.RuneLen(r) > len(p)-n {
			_ = s.r.UnreadRune()
			if n == 0 {
				return 0, io.ErrShortBuffer
			}
			break
		}
		n += utf8.EncodeRune(p[n:], r)
	}
	return n, nil
}
