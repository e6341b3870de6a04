package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"foreman/internal/logging"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	return dir
}

func TestCommitAndPushCreatesCommit(t *testing.T) {
	dir := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCommitter(dir, "", logging.Nop())
	if err := c.CommitAndPush(context.Background()); err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}

	out, err := exec.Command("git", "-C", dir, "log", "--oneline").CombinedOutput()
	if err != nil {
		t.Fatalf("git log: %v: %s", err, out)
	}
	if !strings.Contains(string(out), "checkpoint: work in progress") {
		t.Errorf("log missing checkpoint commit: %s", out)
	}
}

func TestCommitAndPushCleanTreeIsNoop(t *testing.T) {
	dir := initRepo(t)
	c := NewCommitter(dir, "", logging.Nop())
	if err := c.CommitAndPush(context.Background()); err != nil {
		t.Fatalf("clean tree should not error: %v", err)
	}
}

func TestCommitAndPushOutsideRepoFails(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	c := NewCommitter(t.TempDir(), "", logging.Nop())
	if err := c.CommitAndPush(context.Background()); err == nil {
		t.Fatal("expected error outside a git repository")
	}
}
