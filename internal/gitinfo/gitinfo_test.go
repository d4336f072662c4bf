package gitinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepoWithCommit(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatal(err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir, repo
}

func TestLookupCleanRepo(t *testing.T) {
	dir, _ := initRepoWithCommit(t)
	info, err := Lookup(dir)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Branch != "master" && info.Branch != "main" {
		t.Errorf("branch = %q", info.Branch)
	}
	if info.Dirty {
		t.Error("fresh commit reported dirty")
	}
}

func TestLookupDirtyRepo(t *testing.T) {
	dir, _ := initRepoWithCommit(t)
	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("wip\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := Lookup(dir)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !info.Dirty {
		t.Error("untracked file not reported dirty")
	}
}

func TestLookupSubdirectory(t *testing.T) {
	dir, _ := initRepoWithCommit(t)
	sub := filepath.Join(dir, "src", "deep")
	if err := os.MkdirAll(sub, 0o700); err != nil {
		t.Fatal(err)
	}
	info, err := Lookup(sub)
	if err != nil {
		t.Fatalf("Lookup from subdirectory: %v", err)
	}
	if info.Branch == "" {
		t.Error("no branch resolved from subdirectory")
	}
}

func TestLookupOutsideRepo(t *testing.T) {
	if _, err := Lookup(t.TempDir()); err == nil {
		t.Error("Lookup outside a repository returned no error")
	}
}
