// Package gitops wraps the git operations the harness performs on the
// session workspace: cloning, branch setup, recovery resets, and pushing
// completed work.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Client runs git against one repository directory.
type Client struct {
	dir string
}

// New returns a client for the repository at dir. The directory does not
// need to exist yet; EnsureClone creates it.
func New(dir string) *Client {
	return &Client{dir: dir}
}

// Dir returns the repository directory.
func (c *Client) Dir() string {
	return c.dir
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// EnsureClone makes sure the repository exists at the client directory:
// a fresh clone when absent, a fetch when already present.
func (c *Client) EnsureClone(ctx context.Context, repoURL string) error {
	if _, err := os.Stat(filepath.Join(c.dir, ".git")); err == nil {
		if _, err := c.run(ctx, "fetch", "origin", "--prune"); err != nil {
			return fmt.Errorf("fetch existing clone: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.dir), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", repoURL, c.dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clone %s: %w: %s", repoURL, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CheckoutBranch switches to branch, creating it if it does not exist.
// An existing remote branch of the same name is tracked.
func (c *Client) CheckoutBranch(ctx context.Context, branch string) error {
	if _, err := c.run(ctx, "checkout", branch); err == nil {
		return nil
	}
	if _, err := c.run(ctx, "checkout", "--track", "origin/"+branch); err == nil {
		return nil
	}
	if _, err := c.run(ctx, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// ConfigureIdentity sets the commit identity for this repository only.
func (c *Client) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := c.run(ctx, "config", "user.name", name); err != nil {
		return err
	}
	if _, err := c.run(ctx, "config", "user.email", email); err != nil {
		return err
	}
	return nil
}

// HeadCommit returns the full hash of HEAD.
func (c *Client) HeadCommit(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// HasCommitSince reports whether any commit landed after the given one.
func (c *Client) HasCommitSince(ctx context.Context, commit string) (bool, error) {
	out, err := c.run(ctx, "rev-list", "--count", commit+"..HEAD")
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return false, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n > 0, nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// ResetTo discards all uncommitted work and moves the branch back to the
// given commit. Used for crash recovery when a previous invocation died
// mid-run.
func (c *Client) ResetTo(ctx context.Context, commit string) error {
	if _, err := c.run(ctx, "reset", "--hard", commit); err != nil {
		return err
	}
	if _, err := c.run(ctx, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// DiscardUncommitted drops working-tree changes without moving HEAD.
func (c *Client) DiscardUncommitted(ctx context.Context) error {
	if _, err := c.run(ctx, "checkout", "--", "."); err != nil {
		return err
	}
	if _, err := c.run(ctx, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// InstallAutoPush writes a post-commit hook so every commit the agent
// makes is published immediately. Pushed work survives even when the
// invocation dies before VALIDATE.
func (c *Client) InstallAutoPush(branch string) error {
	hookDir := filepath.Join(c.dir, ".git", "hooks")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		return fmt.Errorf("create hooks directory: %w", err)
	}
	hook := fmt.Sprintf("#!/bin/sh\ngit push origin %s >/dev/null 2>&1 || true\n", branch)
	if err := os.WriteFile(filepath.Join(hookDir, "post-commit"), []byte(hook), 0o755); err != nil {
		return fmt.Errorf("write post-commit hook: %w", err)
	}
	return nil
}

// Push publishes the branch, setting upstream on first push.
func (c *Client) Push(ctx context.Context, branch string) error {
	if _, err := c.run(ctx, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}
