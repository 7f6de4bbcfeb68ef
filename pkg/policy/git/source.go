package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"mercator-hq/sentinel/pkg/config"
)

// CommitInfo describes the commit a policy revision was read from.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Revision is the policy file content at one commit.
type Revision struct {
	Commit  CommitInfo
	Path    string
	Content []byte

	// Changed is true on the first sync and whenever HEAD moved since the
	// previous sync.
	Changed bool
}

// PublishFunc receives changed revisions.
type PublishFunc func(ctx context.Context, rev *Revision) error

// Source tracks a policy file in a Git repository.
type Source struct {
	cfg       *config.GitPolicyConfig
	auth      AuthProvider
	localPath string
	logger    *slog.Logger

	mu      sync.Mutex
	repo    *gogit.Repository
	lastSHA string
}

// NewSource validates cfg and prepares a source. Nothing is cloned until
// the first Sync.
func NewSource(cfg *config.GitPolicyConfig) (*Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("policy path cannot be empty")
	}

	auth, err := NewAuthProvider(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	localPath := cfg.LocalPath
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "sentinel-policies")
	}

	return &Source{
		cfg:       cfg,
		auth:      auth,
		localPath: localPath,
		logger:    slog.Default().With("component", "policy.git", "repository", cfg.Repository),
	}, nil
}

// Sync clones on first use and pulls afterwards, then reads the policy file
// at HEAD.
func (s *Source) Sync(ctx context.Context) (*Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if s.repo == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	} else if err := s.pull(ctx); err != nil {
		return nil, err
	}

	ref, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	path := filepath.Join(s.localPath, s.cfg.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", s.cfg.Path, err)
	}

	sha := commit.Hash.String()
	rev := &Revision{
		Commit: CommitInfo{
			SHA:       sha,
			Author:    commit.Author.Name,
			Email:     commit.Author.Email,
			Timestamp: commit.Author.When,
			Message:   commit.Message,
		},
		Path:    s.cfg.Path,
		Content: content,
		Changed: sha != s.lastSHA,
	}
	s.lastSHA = sha
	return rev, nil
}

// Poll syncs immediately and then every PollInterval until ctx is
// cancelled, publishing changed revisions. Sync and publish failures are
// logged; the loop keeps running.
func (s *Source) Poll(ctx context.Context, publish PublishFunc) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.syncAndPublish(ctx, publish)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Source) syncAndPublish(ctx context.Context, publish PublishFunc) {
	rev, err := s.Sync(ctx)
	if err != nil {
		s.logger.Error("Policy sync failed", "error", err)
		return
	}
	if !rev.Changed {
		return
	}
	if err := publish(ctx, rev); err != nil {
		s.logger.Error("Policy publish failed", "sha", rev.Commit.SHA, "error", err)
		return
	}
	s.logger.Info("Policy published from git", "sha", rev.Commit.SHA, "author", rev.Commit.Author)
}

// LastSHA returns the commit of the most recent successful sync.
func (s *Source) LastSHA() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSHA
}

func (s *Source) open(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(s.localPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(s.localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo: %w", err)
		}
		s.repo = repo
		return s.pull(ctx)
	}

	if err := os.MkdirAll(s.localPath, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	auth, err := s.auth.GetAuth()
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	repo, err := gogit.PlainCloneContext(ctx, s.localPath, false, &gogit.CloneOptions{
		URL:           s.cfg.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	s.repo = repo
	s.logger.Info("Policy repository cloned", "branch", s.cfg.Branch, "path", s.localPath)
	return nil
}

func (s *Source) pull(ctx context.Context) error {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	auth, err := s.auth.GetAuth()
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	err = worktree.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull: %w", err)
	}
	return nil
}
