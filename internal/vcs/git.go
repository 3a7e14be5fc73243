package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Git is the real, exec-based VCS adapter. It shells out to the git(1)
// binary rather than linking a Go git implementation, matching how the
// corpus's builder service drives git.
type Git struct{}

// NewGit returns the exec-based VCS adapter.
func NewGit() Git { return Git{} }

func (Git) GetCommit(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("working directory cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (Git) Clone(ctx context.Context, url, dir string) error {
	if url == "" {
		return fmt.Errorf("repository url cannot be empty")
	}
	if dir == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("destination %s already exists", dir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", url, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g Git) Pull(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("working directory cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "fetch", "--depth", "1", "origin")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git fetch failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	cmd = exec.CommandContext(ctx, "git", "reset", "--hard", "origin/HEAD")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git reset failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return g.GetCommit(ctx, dir)
}
