// Package jjutil drives Jujutsu (jj) to back the engine's workspace
// handlers: one jj workspace per run, a commit taken at every checkpoint,
// fast-forward-only merges back into the main workspace, and recovery when
// a run is resumed after its workspace directory went missing.
//
// Re-expresses the same worktree-per-run pattern the teacher's gitutil
// package implements against git, but using jj's verbs: unlike a git
// worktree, a jj workspace's working copy is itself always a commit, so
// there is no separate "git add && git commit" step — `jj describe` labels
// the current commit and `jj new` opens the next one.
package jjutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("jj %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Run executes `jj <args...>` in cwd (or the process cwd if empty) and
// returns stdout. This is the concrete implementation of the engine's
// JjRunner interface.
func Run(ctx context.Context, args []string, cwd string) (string, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Runner adapts Run to the engine.JjRunner interface shape so it can be
// passed directly as a dependency.
type Runner struct{}

func (Runner) Run(ctx context.Context, args []string, cwd string) (string, error) {
	return Run(ctx, args, cwd)
}

// Root returns the jj repo root containing dir.
func Root(ctx context.Context, dir string) (string, error) {
	out, err := Run(ctx, []string{"root"}, dir)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WorkspaceAdd creates a new workspace named name rooted at path, sharing
// the repo at repoRoot.
func WorkspaceAdd(ctx context.Context, repoRoot, path, name string) error {
	_, err := Run(ctx, []string{"workspace", "add", "--name", name, path}, repoRoot)
	return err
}

// WorkspaceForget drops a workspace's registration (used during cleanup and
// before re-adding a workspace that disappeared on disk between runs).
func WorkspaceForget(ctx context.Context, repoRoot, name string) error {
	_, err := Run(ctx, []string{"workspace", "forget", name}, repoRoot)
	return err
}

// WorkspaceList lists the repo's registered workspaces (name -> tip commit id).
func WorkspaceList(ctx context.Context, repoRoot string) (string, error) {
	return Run(ctx, []string{"workspace", "list"}, repoRoot)
}

// TipCommit returns the commit id of the workspace's current working-copy
// commit ("@").
func TipCommit(ctx context.Context, workspaceDir string) (string, error) {
	out, err := Run(ctx, []string{"log", "-r", "@", "--no-graph", "-T", "commit_id"}, workspaceDir)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Describe sets the current commit's description (the jj analogue of a
// commit message) without advancing the working copy.
func Describe(ctx context.Context, workspaceDir, message string) error {
	_, err := Run(ctx, []string{"describe", "-m", message}, workspaceDir)
	return err
}

// Checkpoint labels the current working-copy commit with message and opens
// a fresh empty commit on top of it, returning the commit id of the
// commit just labeled (the checkpoint boundary). This is the jj analogue
// of the teacher's CommitAllowEmpty: every checkpoint gets its own commit
// even if nothing changed.
func Checkpoint(ctx context.Context, workspaceDir, message string) (string, error) {
	if err := Describe(ctx, workspaceDir, message); err != nil {
		return "", err
	}
	sha, err := TipCommit(ctx, workspaceDir)
	if err != nil {
		return "", err
	}
	if _, err := Run(ctx, []string{"new"}, workspaceDir); err != nil {
		return "", err
	}
	return sha, nil
}

// Edit moves the workspace's working copy to commit.
func Edit(ctx context.Context, workspaceDir, commit string) error {
	_, err := Run(ctx, []string{"edit", commit}, workspaceDir)
	return err
}

// RebaseOnto rebases the workspace's current change onto destination.
func RebaseOnto(ctx context.Context, workspaceDir, destination string) error {
	_, err := Run(ctx, []string{"rebase", "-d", destination}, workspaceDir)
	return err
}

// MergeFastForwardOnly advances the trunk bookmark to otherCommit only if
// otherCommit already descends from the current trunk position; returns an
// error otherwise (jj has no native "ff-only" flag, so this is emulated by
// checking ancestry before moving the bookmark).
func MergeFastForwardOnly(ctx context.Context, repoRoot, trunkBookmark, otherCommit string) error {
	// "trunk & ::other" is non-empty exactly when trunk is an ancestor of
	// (or equal to) other.
	out, err := Run(ctx, []string{"log", "-r", fmt.Sprintf("%s & ::%s", trunkBookmark, otherCommit), "--no-graph", "-T", "commit_id ++ \"\\n\""}, repoRoot)
	if err != nil {
		return fmt.Errorf("jjutil: checking ancestry: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Errorf("jjutil: %s is not a descendant of %s; not fast-forwarding", otherCommit, trunkBookmark)
	}
	_, err = Run(ctx, []string{"bookmark", "set", trunkBookmark, "-r", otherCommit}, repoRoot)
	return err
}

// DiffNameOnly returns file paths changed between fromCommit and toCommit.
func DiffNameOnly(ctx context.Context, workspaceDir, fromCommit, toCommit string) ([]string, error) {
	out, err := Run(ctx, []string{"diff", "--from", fromCommit, "--to", toCommit, "--name-only"}, workspaceDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files, nil
}

// Recover re-adds a workspace whose directory has gone missing on disk
// (e.g. a run was cancelled and the working tree was cleaned up), then
// restores its working copy to tipCommit if known. The engine's resume path
// does its own recovery through a JjRunner and does not call this.
func Recover(ctx context.Context, repoRoot, workspaceDir, name, tipCommit string) error {
	_ = WorkspaceForget(ctx, repoRoot, name)
	if err := WorkspaceAdd(ctx, repoRoot, workspaceDir, name); err != nil {
		return fmt.Errorf("jjutil: recover workspace %s: %w", name, err)
	}
	if strings.TrimSpace(tipCommit) != "" {
		if err := Edit(ctx, workspaceDir, tipCommit); err != nil {
			return fmt.Errorf("jjutil: recover edit %s: %w", tipCommit, err)
		}
	}
	return nil
}
