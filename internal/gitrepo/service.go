// Package gitrepo maintains the local mirror of the site repository and
// batches content commits for deferred publishing. Every git mutation in
// the process goes through one Service and its single lock.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

type Config struct {
	RemoteURL   string
	Branch      string
	CloneDir    string
	Token       string
	AuthorName  string
	AuthorEmail string
}

type CommitInfo struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrRemoteDiverged is returned by PushToRemote when the push retry after a
// rebase still fails; local commits remain intact.
var ErrRemoteDiverged = errors.New("remote diverged and retry push failed")

type Service struct {
	cfg Config
	mu  sync.Mutex
}

func New(cfg Config) *Service {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "Copydesk CMS"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "cms@copydesk.local"
	}
	return &Service{cfg: cfg}
}

func (s *Service) auth() transport.AuthMethod {
	if s.cfg.Token == "" || !strings.HasPrefix(s.cfg.RemoteURL, "http") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: s.cfg.Token}
}

func (s *Service) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(s.cfg.Branch)
}

func (s *Service) remoteRef() plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName("origin", s.cfg.Branch)
}

// EnsureFresh guarantees an up-to-date local mirror. Missing mirrors are
// cloned. Existing mirrors are fetched, then hard-reset to the remote tip
// when no local-only commits exist, or rebased onto it when they do. A
// rebase conflict falls back to a hard reset, discarding the conflicting
// local commits; the mirror is never left mid-rebase.
func (s *Service) EnsureFresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.cfg.CloneDir); errors.Is(err, fs.ErrNotExist) {
		log.Printf("gitrepo: cloning %s into %s", s.cfg.Branch, s.cfg.CloneDir)
		_, err := git.PlainCloneContext(ctx, s.cfg.CloneDir, false, &git.CloneOptions{
			URL:           s.cfg.RemoteURL,
			ReferenceName: s.branchRef(),
			SingleBranch:  true,
			Auth:          s.auth(),
		})
		if err != nil {
			return fmt.Errorf("clone repo: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("stat clone dir: %w", err)
	}

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	if err := s.fetch(ctx, repo); err != nil {
		return err
	}

	remoteTip, err := repo.Reference(s.remoteRef(), true)
	if err != nil {
		return fmt.Errorf("resolve remote branch: %w", err)
	}

	ahead, err := s.aheadCommits(repo, remoteTip.Hash())
	if err != nil {
		return err
	}

	if len(ahead) == 0 {
		return s.hardReset(repo, remoteTip.Hash())
	}

	log.Printf("gitrepo: %d unpushed local commit(s), rebasing onto origin/%s", len(ahead), s.cfg.Branch)
	if err := s.rebase(repo, remoteTip.Hash(), ahead); err != nil {
		if !errors.Is(err, errRebaseConflict) {
			return err
		}
		log.Printf("gitrepo: rebase conflict, discarding %d local commit(s) and resetting to origin/%s", len(ahead), s.cfg.Branch)
		return s.hardReset(repo, remoteTip.Hash())
	}
	return nil
}

// ReadFile returns the content of a file in the mirror. Callers that need
// freshness call EnsureFresh first. A missing file satisfies
// errors.Is(err, fs.ErrNotExist).
func (s *Service) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.CloneDir, filepath.FromSlash(path)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes bytes into the mirror, creating parent directories.
func (s *Service) WriteFile(path string, data []byte) error {
	full := filepath.Join(s.cfg.CloneDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file from the mirror. It reports whether the file
// existed.
func (s *Service) DeleteFile(path string) (bool, error) {
	full := filepath.Join(s.cfg.CloneDir, filepath.FromSlash(path))
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Remove(full); err != nil {
		return false, fmt.Errorf("delete %s: %w", path, err)
	}
	return true, nil
}

// ListFiles returns repo-relative paths in a directory matching a glob
// pattern, sorted for determinism.
func (s *Service) ListFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.md"
	}
	full := filepath.Join(s.cfg.CloneDir, filepath.FromSlash(dir))
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(full, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s/%s: %w", dir, pattern, err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(s.cfg.CloneDir, m)
		if err != nil {
			continue
		}
		paths = append(paths, filepath.ToSlash(rel))
	}
	sort.Strings(paths)
	return paths, nil
}

// CommitLocally stages the listed paths and creates a local commit without
// touching the network. Paths missing from disk are staged as removals.
// Returns the commit SHA.
func (s *Service) CommitLocally(files []string, message, authorName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	for _, f := range files {
		full := filepath.Join(s.cfg.CloneDir, filepath.FromSlash(f))
		if _, err := os.Stat(full); err == nil {
			if _, err := worktree.Add(f); err != nil {
				return "", fmt.Errorf("stage %s: %w", f, err)
			}
		} else {
			if _, err := worktree.Remove(f); err != nil {
				log.Printf("gitrepo: could not stage removal of %s: %v", f, err)
			}
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: s.signature(authorName),
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	log.Printf("gitrepo: created local commit %s: %s", hash.String()[:8], message)
	return hash.String(), nil
}

// PushToRemote pushes accumulated local commits. With nothing to push it
// returns 0 without a network call. A rejected push triggers exactly one
// fetch-and-rebase retry; if that also fails the local commits stay intact
// and the error propagates.
func (s *Service) PushToRemote(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err != nil {
		return 0, fmt.Errorf("open repo: %w", err)
	}

	remoteTip, err := repo.Reference(s.remoteRef(), true)
	if err != nil {
		return 0, fmt.Errorf("resolve remote branch: %w", err)
	}
	ahead, err := s.aheadCommits(repo, remoteTip.Hash())
	if err != nil {
		return 0, err
	}
	if len(ahead) == 0 {
		return 0, nil
	}

	if err := s.push(ctx, repo); err != nil {
		log.Printf("gitrepo: push rejected (%v), pulling with rebase and retrying", err)
		if err := s.fetch(ctx, repo); err != nil {
			return 0, err
		}
		remoteTip, err = repo.Reference(s.remoteRef(), true)
		if err != nil {
			return 0, fmt.Errorf("resolve remote branch: %w", err)
		}
		ahead, err = s.aheadCommits(repo, remoteTip.Hash())
		if err != nil {
			return 0, err
		}
		if len(ahead) > 0 {
			if err := s.rebase(repo, remoteTip.Hash(), ahead); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrRemoteDiverged, err)
			}
		}
		if err := s.push(ctx, repo); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRemoteDiverged, err)
		}
	}

	log.Printf("gitrepo: pushed %d commit(s) to origin/%s", len(ahead), s.cfg.Branch)
	return len(ahead), nil
}

// UnpushedCommits fetches the remote ref and lists local-only commits in
// chronological order.
func (s *Service) UnpushedCommits(ctx context.Context) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.cfg.CloneDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := s.fetch(ctx, repo); err != nil {
		return nil, err
	}
	remoteTip, err := repo.Reference(s.remoteRef(), true)
	if err != nil {
		return nil, fmt.Errorf("resolve remote branch: %w", err)
	}
	ahead, err := s.aheadCommits(repo, remoteTip.Hash())
	if err != nil {
		return nil, err
	}

	items := make([]CommitInfo, 0, len(ahead))
	for _, c := range ahead {
		items = append(items, CommitInfo{
			SHA:       c.Hash.String()[:8],
			Message:   strings.TrimSpace(c.Message),
			Author:    c.Author.Name,
			CreatedAt: c.Author.When,
		})
	}
	return items, nil
}

// HasUnpushed reports whether local-only commits exist, without fetching.
func (s *Service) HasUnpushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.cfg.CloneDir)
	if err != nil {
		return false
	}
	remoteTip, err := repo.Reference(s.remoteRef(), true)
	if err != nil {
		return false
	}
	ahead, err := s.aheadCommits(repo, remoteTip.Hash())
	return err == nil && len(ahead) > 0
}

func (s *Service) fetch(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       s.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch origin: %w", err)
	}
	return nil
}

func (s *Service) push(ctx context.Context, repo *git.Repository) error {
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       s.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func (s *Service) signature(name string) *object.Signature {
	if name == "" {
		name = s.cfg.AuthorName
	}
	email := s.cfg.AuthorEmail
	if name != s.cfg.AuthorName {
		email = sanitizeEmailLocal(name) + "@copydesk.local"
	}
	return &object.Signature{Name: name, Email: email, When: time.Now()}
}

func (s *Service) hardReset(repo *git.Repository, target plumbing.Hash) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	return nil
}

// aheadCommits returns local commits not reachable from the remote tip,
// oldest first.
func (s *Service) aheadCommits(repo *git.Repository, remoteTip plumbing.Hash) ([]*object.Commit, error) {
	head, err := repo.Reference(s.branchRef(), true)
	if err != nil {
		return nil, fmt.Errorf("resolve local branch: %w", err)
	}
	if head.Hash() == remoteTip {
		return nil, nil
	}

	localCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load local head: %w", err)
	}
	remoteCommit, err := repo.CommitObject(remoteTip)
	if err != nil {
		return nil, fmt.Errorf("load remote tip: %w", err)
	}

	bases, err := localCommit.MergeBase(remoteCommit)
	if err != nil {
		return nil, fmt.Errorf("compute merge base: %w", err)
	}
	stop := map[plumbing.Hash]struct{}{remoteTip: {}}
	for _, b := range bases {
		stop[b.Hash] = struct{}{}
	}

	var ahead []*object.Commit
	iter := object.NewCommitPreorderIter(localCommit, nil, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if _, done := stop[c.Hash]; done {
			return storerStop
		}
		ahead = append(ahead, c)
		return nil
	})
	if err != nil && !errors.Is(err, storerStop) {
		return nil, fmt.Errorf("walk local commits: %w", err)
	}

	// Preorder walks newest first; flip to chronological.
	for i, j := 0, len(ahead)-1; i < j; i, j = i+1, j-1 {
		ahead[i], ahead[j] = ahead[j], ahead[i]
	}
	return ahead, nil
}

var storerStop = errors.New("stop iteration")

var errRebaseConflict = errors.New("rebase conflict")

// rebase reapplies the ahead commits on top of the remote tip. go-git has
// no native rebase, so each commit's tree changes are replayed onto a
// fresh checkout of the remote tip. If the remote side touched any of the
// same paths since the merge base, errRebaseConflict is returned and the
// worktree is left at its pre-rebase state.
func (s *Service) rebase(repo *git.Repository, remoteTip plumbing.Hash, ahead []*object.Commit) error {
	conflict, err := s.detectConflicts(repo, remoteTip, ahead)
	if err != nil {
		return err
	}
	if conflict {
		return errRebaseConflict
	}

	if err := s.hardReset(repo, remoteTip); err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	for _, c := range ahead {
		changes, err := commitChanges(c)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if ch.deleted {
				if _, err := worktree.Remove(ch.path); err != nil {
					return fmt.Errorf("stage replayed delete %s: %w", ch.path, err)
				}
				continue
			}
			if err := s.WriteFile(ch.path, ch.content); err != nil {
				return err
			}
			if _, err := worktree.Add(ch.path); err != nil {
				return fmt.Errorf("stage replayed %s: %w", ch.path, err)
			}
		}
		_, err = worktree.Commit(c.Message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  c.Author.Name,
				Email: c.Author.Email,
				When:  c.Author.When,
			},
		})
		if err != nil {
			return fmt.Errorf("replay commit %s: %w", c.Hash.String()[:8], err)
		}
	}
	return nil
}

// detectConflicts reports whether any path touched by the local commits was
// also touched on the remote side since the merge base.
func (s *Service) detectConflicts(repo *git.Repository, remoteTip plumbing.Hash, ahead []*object.Commit) (bool, error) {
	remoteCommit, err := repo.CommitObject(remoteTip)
	if err != nil {
		return false, fmt.Errorf("load remote tip: %w", err)
	}
	bases, err := ahead[0].MergeBase(remoteCommit)
	if err != nil || len(bases) == 0 {
		// No common ancestor means full divergence; treat as conflict.
		return true, nil
	}

	baseTree, err := bases[0].Tree()
	if err != nil {
		return false, fmt.Errorf("load base tree: %w", err)
	}
	remoteTree, err := remoteCommit.Tree()
	if err != nil {
		return false, fmt.Errorf("load remote tree: %w", err)
	}
	diff, err := object.DiffTree(baseTree, remoteTree)
	if err != nil {
		return false, fmt.Errorf("diff base..remote: %w", err)
	}

	remotePaths := make(map[string]struct{}, len(diff))
	for _, ch := range diff {
		if ch.From.Name != "" {
			remotePaths[ch.From.Name] = struct{}{}
		}
		if ch.To.Name != "" {
			remotePaths[ch.To.Name] = struct{}{}
		}
	}

	for _, c := range ahead {
		changes, err := commitChanges(c)
		if err != nil {
			return false, err
		}
		for _, ch := range changes {
			if _, clash := remotePaths[ch.path]; clash {
				return true, nil
			}
		}
	}
	return false, nil
}

type fileChange struct {
	path    string
	content []byte
	deleted bool
}

func commitChanges(c *object.Commit) ([]fileChange, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("load commit tree: %w", err)
	}
	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("load parent commit: %w", err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, fmt.Errorf("load parent tree: %w", err)
		}
	}

	diff, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, fmt.Errorf("diff commit %s: %w", c.Hash.String()[:8], err)
	}

	var changes []fileChange
	for _, ch := range diff {
		if ch.To.Name == "" {
			changes = append(changes, fileChange{path: ch.From.Name, deleted: true})
			continue
		}
		file, err := tree.File(ch.To.Name)
		if err != nil {
			return nil, fmt.Errorf("load %s from commit: %w", ch.To.Name, err)
		}
		reader, err := file.Reader()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ch.To.Name, err)
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ch.To.Name, err)
		}
		changes = append(changes, fileChange{path: ch.To.Name, content: data})
	}
	return changes, nil
}

func sanitizeEmailLocal(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
