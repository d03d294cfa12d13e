package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/fidex/provenance"
)

// Dir writes artifacts as JSON files into one directory. Every file is
// replaced atomically, so a reader never sees a half-written file and a
// crash leaves the last complete version behind.
type Dir struct {
	path string

	mu     sync.Mutex
	deltas []provenance.Delta
}

// NewDir creates path if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// Path returns the output directory.
func (d *Dir) Path() string { return d.path }

// WriteStage rewrites the fault log with every stage so far. A delta that
// cannot be encoded is not kept, and the file keeps its previous content.
func (d *Dir) WriteStage(_ context.Context, delta provenance.Delta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := append(d.deltas[:len(d.deltas):len(d.deltas)], delta)
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("artifact: encode stage %s: %w", delta.Stage, err)
	}
	if err := writeFile(filepath.Join(d.path, Faults), data); err != nil {
		return err
	}
	d.deltas = next
	return nil
}

func (d *Dir) WriteArtifact(_ context.Context, name string, v any) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("artifact: encode %s: %w", name, err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeFile(filepath.Join(d.path, name), data)
}

func (d *Dir) Close() error { return nil }

// syncFile flushes f to stable storage.
var syncFile = (*os.File).Sync

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("artifact: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("artifact: close %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("artifact: rename %s: %w", path, err)
	}
	return syncDir(filepath.Dir(path))
}

// syncDir makes a rename into dir durable.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer f.Close()
	if err := syncFile(f); err != nil {
		return fmt.Errorf("artifact: sync %s: %w", dir, err)
	}
	return nil
}
