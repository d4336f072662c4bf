package gitinfo

import (
	"github.com/go-git/go-git/v5"
)

// Info is the display-only git state of a project directory.
type Info struct {
	Branch string `json:"branch"`
	Dirty  bool   `json:"dirty"`
}

// Lookup reports the current branch and dirty flag for path. A path
// that is not inside a git repository returns an error; callers treat
// that as "no git info", not a failure.
func Lookup(path string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}

	info := &Info{}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		info.Branch = head.Hash().String()[:8]
	}

	wt, err := repo.Worktree()
	if err != nil {
		return info, nil
	}
	status, err := wt.Status()
	if err != nil {
		return info, nil
	}
	info.Dirty = !status.IsClean()
	return info, nil
}
