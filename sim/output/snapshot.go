package output

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSnapshot appends snapshots to a file as a YAML document stream, one
// document per snapshot. The file is created on the first snapshot.
type FileSnapshot struct {
	path string
	f    *os.File
}

// NewFileSnapshot returns a writer for path. Nothing is created until the
// first WriteSnapshot.
func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

func (w *FileSnapshot) WriteSnapshot(label string, data []byte) error {
	if w.f == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
			return &BackendError{Backend: "file", Op: "create snapshot directory", Err: err}
		}
		f, err := os.Create(w.path)
		if err != nil {
			return &BackendError{Backend: "file", Op: "create snapshot file", Err: err}
		}
		w.f = f
	}
	if _, err := fmt.Fprintf(w.f, "--- # %s\n%s", label, data); err != nil {
		return &BackendError{Backend: "file", Op: "write snapshot", Err: err}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if _, err := w.f.WriteString("\n"); err != nil {
			return &BackendError{Backend: "file", Op: "write snapshot", Err: err}
		}
	}
	return nil
}

func (w *FileSnapshot) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
