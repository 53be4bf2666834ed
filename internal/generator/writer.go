package generator

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
)

// bom is the UTF-8 byte order mark both files start with.
const bom = "\ufeff"

// sectionWriter appends whole sections to an output file. A section is
// rendered into memory first and reaches the file in a single write, so an
// interrupted run leaves only complete sections behind.
type sectionWriter struct {
	path string
	f    *os.File
	buf  bytes.Buffer
	n    int64
}

// createOutput removes path and starts it afresh with the byte order mark.
func createOutput(path string) (*sectionWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fsErr(err, "failed to create output directory", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fsErr(err, "failed to remove previous output", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fsErr(err, "failed to create output file", path)
	}
	w := &sectionWriter{path: path, f: f}
	if err := w.append([]byte(bom)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Section renders one section with fn and appends it. Nothing is written
// when fn fails or renders nothing.
func (w *sectionWriter) Section(fn func(b *bytes.Buffer) error) error {
	w.buf.Reset()
	if err := fn(&w.buf); err != nil {
		return err
	}
	if w.buf.Len() == 0 {
		return nil
	}
	return w.append(w.buf.Bytes())
}

func (w *sectionWriter) append(p []byte) error {
	n, err := w.f.Write(p)
	w.n += int64(n)
	if err != nil {
		return fsErr(err, "failed to append section", w.path)
	}
	return nil
}

// Size returns the bytes written so far.
func (w *sectionWriter) Size() int64 { return w.n }

// Close syncs and closes the file. Further calls are no-ops.
func (w *sectionWriter) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return fsErr(err, "failed to close output file", w.path)
	}
	if syncErr != nil {
		return fsErr(syncErr, "failed to sync output file", w.path)
	}
	return nil
}

func fsErr(err error, msg, path string) error {
	return errors.WrapError(err, errors.CategoryFileSystem, msg).WithContext("path", path).Build()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
