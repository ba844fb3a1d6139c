package websocket

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
)

// sendJob produces the frames of one outbound message lazily, so that only
// the frame being written is held in memory.
type sendJob interface {
	// next returns the next wire-ready frame, or nil once the job is done.
	next() ([]byte, error)
	// abort releases what the job holds without producing more frames.
	abort() error
}

type textJob struct {
	payload []byte
	sent    bool
}

func (j *textJob) next() ([]byte, error) {
	if j.sent {
		return nil, nil
	}
	j.sent = true
	framesSent.WithLabelValues(frame.OpcodeTextFrame.String()).Inc()
	return frame.Encode(j.payload, frame.OpcodeTextFrame, true), nil
}

func (j *textJob) abort() error {
	return nil
}

// fileSender streams a file as a marker text frame followed by one binary
// message fragmented at threshold bytes.
type fileSender struct {
	path      string
	f         *os.File
	size      int64
	offset    int64
	threshold int
	buf       []byte

	markerSent bool
	chunks     int
	done       bool

	l *zap.Logger
}

func openFileSender(path string, threshold int, l *zap.Logger) (*fileSender, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: [%w]", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to stat file: [%w]", err), f.Close())
	}
	if info.IsDir() {
		return nil, multierr.Append(fmt.Errorf("%q is a directory", path), f.Close())
	}

	return &fileSender{
		path:      path,
		f:         f,
		size:      info.Size(),
		threshold: threshold,
		buf:       make([]byte, min(int64(threshold), max(info.Size(), 1))),
		l:         l.With(zap.String("file", path), zap.Int64("size", info.Size())),
	}, nil
}

func (s *fileSender) next() ([]byte, error) {
	if s.done {
		return nil, nil
	}

	if !s.markerSent {
		marker, err := encodeFileMarker(fileMarker{
			Name: filepath.Base(s.path),
			Size: s.size,
		})
		if err != nil {
			return nil, err
		}
		s.markerSent = true
		framesSent.WithLabelValues(frame.OpcodeTextFrame.String()).Inc()
		return frame.Encode(marker, frame.OpcodeTextFrame, true), nil
	}

	n := min(int64(s.threshold), s.size-s.offset)
	chunk := s.buf[:n]
	_, err := io.ReadFull(s.f, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to read file chunk at offset %d: [%w]", s.offset, err)
	}
	s.offset += n

	opcode := frame.OpcodeContinuationFrame
	if s.chunks == 0 {
		opcode = frame.OpcodeBinaryFrame
	}
	fin := s.offset >= s.size
	s.chunks++

	s.l.Debug("sending file chunk",
		zap.Int("chunk", s.chunks),
		zap.Int64("offset", s.offset),
		zap.Bool("fin", fin))

	wire := frame.Encode(chunk, opcode, fin)
	framesSent.WithLabelValues(opcode.String()).Inc()

	if fin {
		s.done = true
		fileTransfers.WithLabelValues("outbound", "ok").Inc()
		err = s.f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close sent file: [%w]", err)
		}
	}

	return wire, nil
}

func (s *fileSender) abort() error {
	if s.done {
		return nil
	}
	s.done = true
	fileTransfers.WithLabelValues("outbound", "aborted").Inc()
	return s.f.Close()
}

// fileReceiver writes the binary message announced by a marker into a file
// in dir, fragment by fragment.
type fileReceiver struct {
	dir    string
	marker fileMarker
	path   string

	f       *os.File
	written int64
	started bool

	// called with the final path once the last fragment is written
	complete func(path string) error

	l *zap.Logger
}

func newFileReceiver(dir string, marker fileMarker, complete func(string) error, l *zap.Logger) *fileReceiver {
	path := filepath.Join(dir, marker.Name)
	return &fileReceiver{
		dir:      dir,
		marker:   marker,
		path:     path,
		complete: complete,
		l:        l.With(zap.String("file", path)),
	}
}

func (r *fileReceiver) writeFragment(p []byte, fin bool) error {
	if r.f == nil {
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create received file: [%w]", err)
		}
		r.f = f
		r.l.Debug("receiving file", zap.Int64("size", r.marker.Size))
	}

	n, err := r.f.Write(p)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write received file at offset %d: [%w]", r.written, err)
	}

	if !fin {
		return nil
	}

	err = r.f.Close()
	r.f = nil
	if err != nil {
		return fmt.Errorf("failed to close received file: [%w]", err)
	}

	if r.marker.Size >= 0 && r.written != r.marker.Size {
		fileTransfers.WithLabelValues("inbound", "failed").Inc()
		return newProtocolError(CloseInvalidFramePayloadData,
			"received file %q has %d bytes, announced %d", r.marker.Name, r.written, r.marker.Size)
	}

	fileTransfers.WithLabelValues("inbound", "ok").Inc()
	r.l.Debug("file received", zap.Int64("bytes", r.written))

	return r.complete(r.path)
}

// abort closes a partially written file. The file is left on disk.
func (r *fileReceiver) abort() error {
	if r.f == nil {
		return nil
	}

	err := r.f.Close()
	r.f = nil
	fileTransfers.WithLabelValues("inbound", "aborted").Inc()

	return multierr.Append(
		fmt.Errorf("file transfer into %q interrupted after %d bytes", r.path, r.written),
		err,
	)
}
