// Package gitrepo is the versioned repository behind the submission store.
// One repository per course; every canonical rewrite appends exactly one
// commit, never amends, so submission history is queryable by revision.
package gitrepo

import (
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	authorName  = "courier"
	authorEmail = "courier@localhost"
)

type Repo struct {
	dir string
}

// Open opens the repository at dir, initializing it on first use.
func Open(dir string) (*Repo, error) {
	_, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		_, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to init repository %s: %w", dir, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", dir, err)
	}
	return &Repo{dir: dir}, nil
}

func (r *Repo) Dir() string { return r.dir }

// Commit stages every change under rel (a worktree-relative path, "." for
// the whole tree) and commits it. An empty commit is recorded when nothing
// changed, keeping the submission timeline continuous.
func (r *Repo) Commit(rel string, message string, when time.Time) error {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return fmt.Errorf("failed to open repository %s: %w", r.dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	opts := &git.AddOptions{Path: rel}
	if rel == "." || rel == "" {
		opts = &git.AddOptions{All: true}
	}
	if err := wt.AddWithOptions(opts); err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  when,
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CommitCount returns the number of commits reachable from HEAD. Zero for a
// freshly initialized repository.
func (r *Repo) CommitCount() (int, error) {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open repository %s: %w", r.dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return 0, nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk log: %w", err)
	}
	return count, nil
}
