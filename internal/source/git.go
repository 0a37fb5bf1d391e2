package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/hakim/readyscan/internal/models"
)

// GitOptions describes a remote repository to clone.
type GitOptions struct {
	URL     string
	Ref     string
	Token   string
	Timeout time.Duration
}

// Git shallow-clones a repository into a temporary directory, loads it as a
// snapshot and removes the clone. Snapshot paths are relative to the
// repository root.
func Git(ctx context.Context, g GitOptions, opts Options) (*Snapshot, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp("", "readyscan-clone-*")
	if err != nil {
		return nil, fmt.Errorf("source: creating clone dir: %w", err)
	}
	defer os.RemoveAll(dir)

	revision, err := clone(ctx, dir, g)
	if err != nil {
		return nil, err
	}

	snap, err := Local(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	snap.Root = g.URL
	snap.Revision = revision
	return snap, nil
}

func clone(ctx context.Context, dir string, g GitOptions) (string, error) {
	opts := &git.CloneOptions{
		URL:          g.URL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if g.Token != "" {
		opts.Auth = &githttp.BasicAuth{
			Username: "x-access-token",
			Password: g.Token,
		}
	}
	if g.Ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(g.Ref)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil && g.Ref != "" && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// The ref may name a tag rather than a branch.
		if rmErr := resetDir(dir); rmErr != nil {
			return "", rmErr
		}
		opts.ReferenceName = plumbing.NewTagReferenceName(g.Ref)
		repo, err = git.PlainCloneContext(ctx, dir, false, opts)
	}
	if err != nil {
		return "", fmt.Errorf("source: cloning %s: %w", redactURL(g.URL), classifyCloneError(ctx, err))
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("source: resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// classifyCloneError tags go-git failures with the matching sentinel while
// keeping the original error in the chain.
func classifyCloneError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var noRef git.NoMatchingRefSpecError
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("%w: %w", ErrRepoNotFound, err)
	case errors.Is(err, plumbing.ErrReferenceNotFound), errors.As(err, &noRef):
		return fmt.Errorf("%w: %w", ErrRefNotFound, err)
	}
	return err
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("source: clearing clone dir: %w", err)
	}
	return os.MkdirAll(dir, 0o700)
}

// redactURL drops userinfo from a clone URL before it reaches logs.
func redactURL(raw string) string {
	if i := strings.Index(raw, "@"); i >= 0 {
		if j := strings.Index(raw, "://"); j >= 0 && j < i {
			return raw[:j+3] + raw[i+1:]
		}
	}
	return raw
}

// Acquire resolves a descriptor into a snapshot.
func Acquire(ctx context.Context, src models.SourceDescriptor, opts Options, cloneTimeout time.Duration) (*Snapshot, error) {
	switch src.Kind {
	case models.SourceLocal:
		return Local(ctx, src.Path, opts)
	case models.SourceGit:
		return Git(ctx, GitOptions{URL: src.URL, Ref: src.Ref, Token: src.Token, Timeout: cloneTimeout}, opts)
	default:
		return nil, fmt.Errorf("source: %w %q", ErrUnsupportedKind, src.Kind)
	}
}
