package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArtifactMismatch is returned when an audio file name does not
// carry the owning interview's id prefix. A mismatch means the linkage
// is corrupt; the artifact must be excluded rather than attached to
// the wrong record.
var ErrArtifactMismatch = errors.New("audio artifact does not belong to interview")

// Recorder is the external audio-capture subsystem. StopCapture hands
// back a transient path which the interview store immediately copies
// into its own durable area.
type Recorder interface {
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) (string, error)
}

// ArtifactDir owns the durable audio area. Files inside it are named
// <interviewID>_<original basename> so ownership is checkable from the
// path alone.
type ArtifactDir struct {
	root string
}

// NewArtifactDir creates (if needed) the audio directory under dataDir.
func NewArtifactDir(dataDir string) (*ArtifactDir, error) {
	root := filepath.Join(dataDir, "audio")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio directory: %w", err)
	}
	return &ArtifactDir{root: root}, nil
}

// Adopt copies the capture subsystem's transient file into the owned
// area and returns the durable path. The source may disappear at any
// point after this returns.
func (d *ArtifactDir) Adopt(interviewID, srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("opening captured audio: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(d.root, interviewID+"_"+filepath.Base(srcPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("creating owned audio file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copying audio: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("flushing audio copy: %w", err)
	}
	return dstPath, nil
}

// Verify checks the id-prefix ownership invariant for path.
func (d *ArtifactDir) Verify(interviewID, path string) error {
	if !strings.HasPrefix(filepath.Base(path), interviewID+"_") {
		return fmt.Errorf("%w: %s", ErrArtifactMismatch, filepath.Base(path))
	}
	return nil
}

// Open opens an owned artifact for reading (upload), verifying
// ownership first.
func (d *ArtifactDir) Open(interviewID, path string) (*os.File, error) {
	if err := d.Verify(interviewID, path); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes an owned artifact. Ownership is verified first so a
// corrupt linkage can never delete another interview's recording.
// Removing an already-absent file is not an error.
func (d *ArtifactDir) Remove(interviewID, path string) error {
	if path == "" {
		return nil
	}
	if err := d.Verify(interviewID, path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing audio artifact: %w", err)
	}
	return nil
}
