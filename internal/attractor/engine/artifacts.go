package engine

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ArtifactStore locates the per-stage log artifacts the handlers write under
// a run's logs root, all inside <node_id>/attempt-<n>/ (prompt.md and
// response.md for codergen stages, stdout.log/stderr.log/meta.json for tool
// stages, workspace.json for workspace creation), so a caller can glob for
// them without hard-coding the directory layout.
type ArtifactStore struct {
	LogsRoot string
}

// Glob returns paths under the logs root matching a doublestar pattern
// (e.g. "*/attempt-*/stderr.log", "**/response.md"), relative to LogsRoot.
func (s ArtifactStore) Glob(pattern string) ([]string, error) {
	fsys := os.DirFS(s.LogsRoot)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(s.LogsRoot, filepath.FromSlash(m)))
	}
	return out, nil
}

// StageArtifacts returns every artifact file recorded for a single stage id.
func (s ArtifactStore) StageArtifacts(stageID string) ([]string, error) {
	return s.Glob(stageID + "/**")
}
