package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source exposes the audio asset as a restartable, finite sequence of chunks.
// Each Open starts a fresh pass from offset zero; looping is the caller's
// policy, not the source's.
type Source interface {
	// Open starts a new pass over the asset. The returned reader emits every
	// byte of the asset exactly once, in order, in fixed-size chunks except
	// possibly the last chunk of the pass.
	Open() (Reader, error)

	// ContentType reports the MIME type the asset should be served with.
	ContentType() string
}

// Reader is one pass over the asset. Next returns io.EOF when the pass is
// exhausted.
type Reader interface {
	Next() ([]byte, error)
	Close() error
}

// FileSource reads the asset file from disk on every pass.
type FileSource struct {
	path      string
	chunkSize int
}

// NewFileSource creates a source that serves the file at path in chunkSize
// byte chunks.
func NewFileSource(path string, chunkSize int) *FileSource {
	return &FileSource{
		path:      path,
		chunkSize: chunkSize,
	}
}

// Open opens the asset file for a new pass. A missing, unreadable or empty
// file is reported here, not deferred to the first read.
func (s *FileSource) Open() (Reader, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio asset %s: %w", s.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat audio asset %s: %w", s.path, err)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("audio asset %s is empty", s.path)
	}

	return &fileReader{
		f:         f,
		chunkSize: s.chunkSize,
	}, nil
}

// ContentType derives the MIME type from the file extension, defaulting to
// audio/mpeg.
func (s *FileSource) ContentType() string {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

// Path returns the asset file path.
func (s *FileSource) Path() string {
	return s.path
}

type fileReader struct {
	f         *os.File
	chunkSize int
	done      bool
}

// Next reads the next chunk from the file. Each chunk is a freshly allocated
// buffer, never reused across calls.
func (r *fileReader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	buf := make([]byte, r.chunkSize)
	n, err := io.ReadFull(r.f, buf)
	switch err {
	case nil:
		return buf, nil
	case io.ErrUnexpectedEOF:
		// Short final chunk of the pass.
		r.done = true
		return buf[:n], nil
	case io.EOF:
		r.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("failed to read audio asset: %w", err)
	}
}

func (r *fileReader) Close() error {
	return r.f.Close()
}

// BufferSource serves byte-range slices of an in-memory buffer. It is the
// backing source for prepared audio.
type BufferSource struct {
	data        []byte
	chunkSize   int
	contentType string
}

// NewBufferSource creates a source over data. The buffer is shared, not
// copied; callers must not mutate it afterwards.
func NewBufferSource(data []byte, chunkSize int, contentType string) *BufferSource {
	return &BufferSource{
		data:        data,
		chunkSize:   chunkSize,
		contentType: contentType,
	}
}

// Open starts a new pass over the buffer.
func (s *BufferSource) Open() (Reader, error) {
	if len(s.data) == 0 {
		return nil, fmt.Errorf("audio buffer is empty")
	}

	return &bufferReader{
		data:      s.data,
		chunkSize: s.chunkSize,
	}, nil
}

// ContentType reports the MIME type given at creation.
func (s *BufferSource) ContentType() string {
	return s.contentType
}

// Size returns the total buffer length in bytes.
func (s *BufferSource) Size() int {
	return len(s.data)
}

type bufferReader struct {
	data      []byte
	chunkSize int
	offset    int
}

// Next returns the next chunk as a subslice of the shared buffer. Chunks are
// immutable by contract, so no copy is made.
func (r *bufferReader) Next() ([]byte, error) {
	if r.offset >= len(r.data) {
		return nil, io.EOF
	}

	end := r.offset + r.chunkSize
	if end > len(r.data) {
		end = len(r.data)
	}

	chunk := r.data[r.offset:end:end]
	r.offset = end
	return chunk, nil
}

func (r *bufferReader) Close() error {
	return nil
}
