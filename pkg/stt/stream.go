package stt

import (
	"io"
	"sync"
	"sync/atomic"
)

// AudioStream is the push side of a recognition session. The media
// bridge writes decoded PCM into it; the provider consumes it as an
// io.Reader. Write blocks only while the provider is between reads,
// never on downstream pipeline work.
type AudioStream struct {
	reader *io.PipeReader
	writer *io.PipeWriter

	closeOnce    sync.Once
	bytesWritten atomic.Int64
}

// NewAudioStream creates a connected push stream
func NewAudioStream() *AudioStream {
	r, w := io.Pipe()
	return &AudioStream{reader: r, writer: w}
}

// Write pushes PCM audio toward the provider. Returns io.ErrClosedPipe
// after Close.
func (s *AudioStream) Write(p []byte) (int, error) {
	n, err := s.writer.Write(p)
	s.bytesWritten.Add(int64(n))
	return n, err
}

// Read implements io.Reader for the provider side
func (s *AudioStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close ends the stream; the provider sees io.EOF after draining.
// Idempotent.
func (s *AudioStream) Close() error {
	s.closeOnce.Do(func() {
		s.writer.Close()
	})
	return nil
}

// BytesWritten returns the total PCM bytes pushed so far
func (s *AudioStream) BytesWritten() int64 {
	return s.bytesWritten.Load()
}
