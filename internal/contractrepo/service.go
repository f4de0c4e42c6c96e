// Package contractrepo keeps a git revision history per chapter agreement.
// Every successful contract generation commits the rendered document and the
// field snapshot it was built from, so old renditions stay auditable.
package contractrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"wellspring/api/internal/util"
)

const (
	documentFile = "agreement.html"
	fieldsFile   = "fields.json"
)

// Revision describes one committed rendition.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

func (s *Service) repoPath(chapterID string) string {
	return filepath.Join(s.baseDir, util.Slug(chapterID))
}

func (s *Service) chapterLock(chapterID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[chapterID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chapterID] = lock
	}
	return lock
}

// CommitContract records a rendition. The repo is initialized on first use;
// the fields value is stored as indented JSON next to the document.
func (s *Service) CommitContract(chapterID, html string, fields any, author, message string) (Revision, error) {
	lock := s.chapterLock(chapterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(chapterID)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	if err := os.WriteFile(filepath.Join(root, documentFile), []byte(html), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write agreement: %w", err)
	}
	snapshot, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal field snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, fieldsFile), append(snapshot, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write field snapshot: %w", err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return Revision{}, fmt.Errorf("git add agreement: %w", err)
	}
	if _, err := worktree.Add(fieldsFile); err != nil {
		return Revision{}, fmt.Errorf("git add field snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit rendition: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists renditions newest first, up to limit (0 means unbounded).
func (s *Service) History(chapterID string, limit int) ([]Revision, error) {
	lock := s.chapterLock(chapterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(chapterID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Revision{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	revisions := make([]Revision, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		revisions = append(revisions, toRevision(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return revisions, nil
}

// DocumentAt returns the rendered agreement as of a revision hash.
func (s *Service) DocumentAt(chapterID, hash string) (string, error) {
	lock := s.chapterLock(chapterID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(chapterID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(documentFile)
	if err != nil {
		return "", fmt.Errorf("load agreement from commit: %w", err)
	}
	return file.Contents()
}

func (s *Service) openOrInit(chapterID string) (*git.Repository, error) {
	path := s.repoPath(chapterID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.wellspring.dev", util.Slug(author)),
		When:  time.Now(),
	}
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}
