package rewrite

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

// Snapshotter receives intermediate graphs for debugging.
type Snapshotter interface {
	Snapshot(ctx context.Context, name string, g *graph.Graph) error
}

// DirSnapshotter writes each snapshot as a descriptor file under Dir/RunID.
type DirSnapshotter struct {
	Fs    afero.Fs
	Dir   string
	RunID string
}

var _ Snapshotter = &DirSnapshotter{}

// NewDirSnapshotter returns a snapshotter writing to a fresh run directory
// under dir.
func NewDirSnapshotter(fs afero.Fs, dir string) *DirSnapshotter {
	return &DirSnapshotter{
		Fs:    fs,
		Dir:   dir,
		RunID: uuid.NewString(),
	}
}

// Path returns the file a snapshot called name is written to.
func (s *DirSnapshotter) Path(name string) string {
	return filepath.Join(s.Dir, s.RunID, name+".yaml")
}

func (s *DirSnapshotter) Snapshot(ctx context.Context, name string, g *graph.Graph) error {
	data, err := graph.Encode(g)
	if err != nil {
		return err
	}
	p := s.Path(name)
	if err := s.Fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := afero.WriteFile(s.Fs, p, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot %q: %w", p, err)
	}
	klog.FromContext(ctx).Info("wrote graph snapshot", "name", name, "path", p, "nodes", g.Len())
	return nil
}

// WriteSnapshot hands g to s, if s is set. Failures are logged and otherwise
// ignored.
func WriteSnapshot(ctx context.Context, s Snapshotter, name string, g *graph.Graph) {
	if s == nil {
		return
	}
	if err := s.Snapshot(ctx, name, g); err != nil {
		klog.FromContext(ctx).Error(err, "failed to write graph snapshot", "name", name)
	}
}
