package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// RotatingLogWriter feeds the log file. It discards everything until
// InitLogRotator has been called.
type RotatingLogWriter struct {
	out io.WriteCloser

	rotator *rotator.Rotator
}

// NewRotatingLogWriter returns a writer without a file behind it.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// newCompressor returns the compressor of rotated files with the given name.
func newCompressor(name string) (rotator.Compressor, error) {
	switch name {
	case Gzip:
		return gzip.NewWriter(nil), nil

	case Zstd:
		return zstd.NewWriter(nil)

	default:
		return nil, fmt.Errorf("unknown log compressor: %v", name)
	}
}

// InitLogRotator opens logFile, creating its directory. Rolled files land next
// to it. With MaxLogFiles at zero the file grows without rotation.
func (r *RotatingLogWriter) InitLogRotator(cfg *FileLoggerConfig,
	logFile string) error {

	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}

	if cfg.MaxLogFiles == 0 {
		f, err := os.OpenFile(
			logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600,
		)
		if err != nil {
			return err
		}
		r.out = f

		return nil
	}

	compressor, err := newCompressor(cfg.Compressor)
	if err != nil {
		return err
	}

	r.rotator, err = rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("unable to create log rotator: %w", err)
	}
	r.rotator.SetCompressor(compressor, logCompressors[cfg.Compressor])

	pr, pw := io.Pipe()
	go func() {
		// The log may be what is broken, so stderr it is.
		if err := r.rotator.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n", err)
		}
	}()
	r.out = pw

	return nil
}

// Write appends b to the log file.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.out == nil {
		return len(b), nil
	}

	return r.out.Write(b)
}

// Close flushes and closes the log file.
func (r *RotatingLogWriter) Close() error {
	if r.out != nil {
		_ = r.out.Close()
	}
	if r.rotator != nil {
		return r.rotator.Close()
	}

	return nil
}
