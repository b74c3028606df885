package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Workspace is the scratch directory tree exclusively owned by one execution
// for its lifetime. It is never read by another concurrent execution.
type Workspace struct {
	Dir    string
	ExecID string

	preexisting map[string]bool
}

// NewWorkspace creates a per-invocation scratch directory under tempRoot and
// writes every Files entry into it, creating parent directories as needed.
func NewWorkspace(tempRoot string, files map[string]string) (*Workspace, error) {
	if err := os.MkdirAll(tempRoot, 0750); err != nil {
		return nil, fmt.Errorf("creating temp root: %w", err)
	}

	execID := uuid.New().String()
	dir, err := os.MkdirTemp(tempRoot, "run-"+execID[:8]+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	ws := &Workspace{Dir: dir, ExecID: execID}
	if err := ws.WriteFiles(files); err != nil {
		ws.Cleanup()
		return nil, err
	}
	return ws, nil
}

// WriteFiles writes the given path->content entries under the workspace.
// Paths are normalized relative to the workspace root, so "../" segments are
// confined to it rather than escaping.
func (w *Workspace) WriteFiles(files map[string]string) error {
	for name, content := range files {
		path, err := w.resolve(name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return fmt.Errorf("creating parent dirs for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// WriteFile writes a single file under the workspace.
func (w *Workspace) WriteFile(name, content string) error {
	return w.WriteFiles(map[string]string{name: content})
}

// ReadFile reads a file from the workspace.
func (w *Workspace) ReadFile(name string) (string, error) {
	path, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path confined to workspace by resolve
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether a file exists in the workspace.
func (w *Workspace) Exists(name string) bool {
	path, err := w.resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (w *Workspace) resolve(name string) (string, error) {
	path := filepath.Join(w.Dir, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, w.Dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes workspace", ErrInvalidRequest, name)
	}
	return path, nil
}

// Snapshot records the current file set so CollectArtifacts can report only
// files created by the command.
func (w *Workspace) Snapshot() {
	w.preexisting = make(map[string]bool)
	_ = filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		w.preexisting[path] = true
		return nil
	})
}

// CollectArtifacts scans the workspace for files created since Snapshot and
// classifies each by filename heuristics.
func (w *Workspace) CollectArtifacts() []Artifact {
	var artifacts []Artifact

	err := filepath.WalkDir(w.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.preexisting[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		artifacts = append(artifacts, Artifact{
			Name:      d.Name(),
			Path:      path,
			Type:      ClassifyArtifact(d.Name(), info.Mode()),
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", w.Dir).Msg("artifact scan failed")
	}

	return artifacts
}

// Cleanup removes the workspace. Idempotent; failures are logged, never
// propagated, so the result of the run is unaffected.
func (w *Workspace) Cleanup() {
	if w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		log.Warn().Err(err).Str("dir", w.Dir).Msg("workspace cleanup failed")
	}
	w.Dir = ""
}

// ClassifyArtifact maps a filename (and mode) to an artifact type.
func ClassifyArtifact(name string, mode fs.FileMode) ArtifactType {
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)

	switch {
	case strings.Contains(lower, "coverage"):
		return ArtifactCoverage
	case strings.Contains(lower, "test") && (ext == ".xml" || ext == ".json"):
		return ArtifactTestReport
	case ext == ".log":
		return ArtifactLog
	case ext == ".exe" || ext == ".bin" || mode&0111 != 0:
		return ArtifactBinary
	default:
		return ArtifactOutput
	}
}
