package runtime

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Checkpoint is the on-disk resume document written after every completed
// node and read back when a run is resumed (RunOptions.ResumeFrom). The
// schema is intentionally flat JSON so it can be hand-inspected or edited
// between runs.
type Checkpoint struct {
	Timestamp string `json:"timestamp"`

	// GitCommitSHA is a workspace commit slot. The engine saves it empty and
	// resume does not read it.
	GitCommitSHA string `json:"git_commit_sha"`

	// CurrentNode is the node the run was at when the checkpoint was saved:
	// the node that just finished or, on cancellation, the node that was in
	// flight or about to run.
	CurrentNode string `json:"current_node"`

	// ResumeAt, if set, overrides CurrentNode as the node resume should
	// re-execute (rather than continue past). A checkpoint saved when a
	// stage is cancelled mid-execution sets this to re-run that same node.
	ResumeAt string `json:"resume_at,omitempty"`

	CompletedNodes []string       `json:"completed_nodes"`
	NodeRetries    map[string]int `json:"node_retries"`
	ContextValues  map[string]any `json:"context_values"`
	Logs           []string       `json:"logs"`

	// ContentHash is the blake3 digest of ContextValues at save time, so a
	// resumed run can tell whether a checkpoint on disk is the same one it
	// last saw without re-diffing the whole map.
	ContentHash string `json:"content_hash,omitempty"`

	// Extra carries engine-internal bookkeeping that doesn't warrant a
	// top-level field; the engine stores only "restart_count" here. Keyed
	// informally; callers type-assert.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewCheckpoint builds a checkpoint from the engine's current run state.
func NewCheckpoint(currentNode, gitCommitSHA string, completedNodes []string, nodeRetries map[string]int, ctx *Context) *Checkpoint {
	cp := &Checkpoint{
		CurrentNode:    currentNode,
		GitCommitSHA:   gitCommitSHA,
		CompletedNodes: append([]string{}, completedNodes...),
		NodeRetries:    copyIntMap(nodeRetries),
		Extra:          map[string]any{},
	}
	if ctx != nil {
		cp.ContextValues = ctx.SnapshotValues()
		cp.Logs = ctx.SnapshotLogs()
	}
	cp.ContentHash = hashContextValues(cp.ContextValues)
	return cp
}

// hashContextValues returns the hex blake3 digest of a canonical JSON
// encoding of values. Map key order doesn't affect encoding/json's output
// for map[string]any (it sorts keys), so this is stable across saves.
func hashContextValues(values map[string]any) string {
	b, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	h := blake3.New()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// SameContent reports whether cp and other were saved with identical
// context values, letting a resume path skip re-deriving work when a
// checkpoint on disk hasn't actually changed since it was last read.
func (cp *Checkpoint) SameContent(other *Checkpoint) bool {
	if cp == nil || other == nil {
		return false
	}
	if cp.ContentHash == "" || other.ContentHash == "" {
		return false
	}
	return cp.ContentHash == other.ContentHash
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Save writes the checkpoint to path as indented JSON, creating parent
// directories as needed. The JSON is written to "<path>.tmp" first and then
// renamed over path, so a reader never sees a half-written file.
func (cp *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and decodes a checkpoint.json document.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	if cp.NodeRetries == nil {
		cp.NodeRetries = map[string]int{}
	}
	if cp.Extra == nil {
		cp.Extra = map[string]any{}
	}
	return &cp, nil
}
