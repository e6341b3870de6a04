// Package gitops shells out to git for the periodic commit-and-push
// checkpoint applied while a build runs.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"foreman/internal/logging"
)

const commandTimeout = 60 * time.Second

// Committer checkpoints a working directory by committing and pushing it.
type Committer struct {
	dir    string
	branch string
	logger logging.Logger
}

// NewCommitter creates a committer for the given repository directory.
// branch may be empty to push the current branch.
func NewCommitter(dir, branch string, logger logging.Logger) *Committer {
	return &Committer{
		dir:    dir,
		branch: branch,
		logger: logging.OrNop(logger),
	}
}

// CommitAndPush stages everything, commits, and pushes. A clean tree is not
// an error. Push is skipped when the repository has no remote configured.
func (c *Committer) CommitAndPush(ctx context.Context) error {
	if _, err := c.git(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	status, err := c.git(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		c.logger.Debug("Commit checkpoint in %s: nothing to commit", c.dir)
		return nil
	}

	if _, err := c.git(ctx, "commit", "-m", "checkpoint: work in progress"); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	remotes, err := c.git(ctx, "remote")
	if err != nil {
		return fmt.Errorf("git remote: %w", err)
	}
	if strings.TrimSpace(remotes) == "" {
		c.logger.Debug("Commit checkpoint in %s: no remote, skipping push", c.dir)
		return nil
	}

	args := []string{"push", "origin"}
	if c.branch != "" {
		args = append(args, c.branch)
	}
	if _, err := c.git(ctx, args...); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	c.logger.Info("Commit checkpoint in %s pushed", c.dir)
	return nil
}

// SideEffect adapts the committer to the monitor's side-effect signature.
func (c *Committer) SideEffect() func(ctx context.Context) error {
	return c.CommitAndPush
}

func (c *Committer) git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%v: %s", err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
