// Package classify decides, for a mount-relative path, whether the
// overlay should bypass it entirely (passthrough), force it into
// auto-commit and sync regardless of gitignore (include), drop it
// from both (skip), or fall through to consulting .gitignore via the
// git CLI.
package classify

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/branchbox/branchbox/gitrepo"
)

// Classification is the result of classifying a single path.
type Classification int

const (
	Normal Classification = iota
	Passthrough
	Include
	Skip
	Ignored
)

func (c Classification) String() string {
	switch c {
	case Passthrough:
		return "passthrough"
	case Include:
		return "include"
	case Skip:
		return "skip"
	case Ignored:
		return "ignored"
	default:
		return "normal"
	}
}

// IgnoreChecker is the subset of gitrepo.Repo the classifier needs,
// split out so tests can substitute a stub.
type IgnoreChecker interface {
	CheckIgnore(ctx context.Context, relPath string) (bool, error)
}

var _ IgnoreChecker = (*gitrepo.Repo)(nil)

// Classifier holds the configured glob lists and a git-ignore oracle.
type Classifier struct {
	Passthrough   []string
	AlwaysInclude []string
	AlwaysSkip    []string
	Repo          IgnoreChecker
}

// New builds a Classifier. repo may be nil if passthrough/include/skip
// fully determine every path the caller cares about (e.g. unit tests);
// with a nil repo, a path no glob list matches is classified Normal.
func New(passthrough, alwaysInclude, alwaysSkip []string, repo IgnoreChecker) *Classifier {
	return &Classifier{
		Passthrough:   passthrough,
		AlwaysInclude: alwaysInclude,
		AlwaysSkip:    alwaysSkip,
		Repo:          repo,
	}
}

// stripDotSlash drops a leading "./" so an exact pattern like ".env"
// matches a caller-supplied "./.env", mirroring the reference
// implementation's glob normalization.
func stripDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}

func matchesAny(patterns []string, path string) bool {
	path = stripDotSlash(path)
	for _, pattern := range patterns {
		pattern = stripDotSlash(pattern)
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// Classify applies the spec's ordered rule set: passthrough, then
// always-include, then always-skip, then a git check-ignore
// consultation for anything left.
func (c *Classifier) Classify(ctx context.Context, relPath string) (Classification, error) {
	if matchesAny(c.Passthrough, relPath) {
		return Passthrough, nil
	}
	if matchesAny(c.AlwaysInclude, relPath) {
		return Include, nil
	}
	if matchesAny(c.AlwaysSkip, relPath) {
		return Skip, nil
	}

	if c.Repo == nil {
		return Normal, nil
	}

	ignored, err := c.Repo.CheckIgnore(ctx, stripDotSlash(relPath))
	if err != nil {
		return Normal, err
	}
	if ignored {
		return Ignored, nil
	}
	return Normal, nil
}
