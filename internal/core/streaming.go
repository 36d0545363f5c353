package core

// streaming.go wraps the raw source before it reaches the CSV reader.
//
//   - utf8Sanitizer: replaces invalid UTF-8 bytes with '?'
//   - bomSkipper: drops a leading UTF-8 BOM written by spreadsheet tools
//   - SourceReader: counts bytes and fingerprints the content with murmur3
//
// Use WrapSource to apply all transforms in order.

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spaolacci/murmur3"
)

// utf8Sanitizer replaces invalid UTF-8 sequences on the fly so memory stays
// bounded by the read buffer.
type utf8Sanitizer struct {
	reader  io.Reader
	pending []byte // start of a multi-byte sequence split across reads
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{reader: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.reader.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if isASCII(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes to emit.
// Unless atEOF, a trailing partial rune is held back for the next read.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		return len(data)
	}

	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(data[read:]) {
				s.pending = append(s.pending, data[read:]...)
				return write
			}
			// '?' keeps the output no longer than the input.
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// bomSkipper drops a leading 0xEF 0xBB 0xBF.
type bomSkipper struct {
	reader  io.Reader
	checked bool
	head    []byte
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{reader: r}
}

func (r *bomSkipper) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true

		var buf [3]byte
		n, err := io.ReadFull(r.reader, buf[:])
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			r.head = append([]byte(nil), buf[:n]...)
		}
		if err == io.EOF && len(r.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(r.head) > 0 {
		n := copy(p, r.head)
		r.head = r.head[n:]
		return n, nil
	}
	return r.reader.Read(p)
}

// SourceReader counts and fingerprints every byte the CSV reader consumes.
type SourceReader struct {
	reader    io.Reader
	hash      murmur3.Hash128
	BytesRead int64
}

// Read implements io.Reader.
func (r *SourceReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
		r.BytesRead += int64(n)
	}
	return n, err
}

// Fingerprint returns the hex murmur3-128 digest of the bytes read so far.
func (r *SourceReader) Fingerprint() string {
	h1, h2 := r.hash.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// WrapSource strips a BOM, sanitizes UTF-8 and fingerprints the result.
// The fingerprint covers the cleaned bytes, so the same export with and
// without a BOM hashes identically.
func WrapSource(r io.Reader) *SourceReader {
	return &SourceReader{
		reader: newUTF8Sanitizer(newBOMSkipper(r)),
		hash:   murmur3.New128(),
	}
}
