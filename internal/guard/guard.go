// Package guard validates external commands before anything is spawned.
//
// Every caller that wants to run a program goes through Guard.Validate and
// receives a *Command, the only value the runner accepts. All checks fail
// closed: a command that trips any of them is never executed.
package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/policy"
)

// unsafeChars are shell metacharacters that may never appear in an argument
// or a working directory. NUL, CR and LF are included as well.
const unsafeChars = ";&|`$(){}[]<>\x00\r\n"

// Policy decides whether a program may be spawned.
type Policy interface {
	Evaluate(ctx context.Context, input policy.CommandInput) (string, error)
}

// Guard validates (program, args, workdir) triples.
type Guard struct {
	allowed []string
	baseDir string
	policy  Policy
}

// Command is a validated command. Its fields are unexported so a Command can
// only be obtained from Guard.Validate.
type Command struct {
	program string
	args    []string
	dir     string
}

// Program returns the allow-listed program name.
func (c *Command) Program() string { return c.program }

// Args returns a copy of the argument list.
func (c *Command) Args() []string { return append([]string(nil), c.args...) }

// Dir returns the resolved working directory.
func (c *Command) Dir() string { return c.dir }

// Valid reports whether c was produced by a Guard.
func (c *Command) Valid() bool { return c != nil && c.program != "" && c.dir != "" }

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.program}, c.args...), " ")
}

// New creates a Guard for the given allow-list and base root. The base root
// must be an absolute path; it does not have to exist yet.
func New(allowed []string, baseDir string, p Policy) (*Guard, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("allow-list is empty")
	}
	if !filepath.IsAbs(baseDir) {
		return nil, fmt.Errorf("base dir must be absolute: %q", baseDir)
	}
	if p == nil {
		return nil, fmt.Errorf("policy is required")
	}
	return &Guard{
		allowed: append([]string(nil), allowed...),
		baseDir: filepath.Clean(baseDir),
		policy:  p,
	}, nil
}

// BaseDir returns the base root all working directories must live under.
func (g *Guard) BaseDir() string { return g.baseDir }

// Allowed returns a copy of the allow-list.
func (g *Guard) Allowed() []string { return append([]string(nil), g.allowed...) }

// Validate checks the proposed command and returns a Command on success.
// The returned error wraps one of the domain guard sentinels.
func (g *Guard) Validate(ctx context.Context, program string, args []string, dir string) (*Command, error) {
	decision, err := g.policy.Evaluate(ctx, policy.CommandInput{Program: program, Args: args, Allowed: g.allowed})
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrCommandNotAllowed, program, err)
	}
	if decision != policy.DecisionAllow {
		return nil, fmt.Errorf("%w: %q", domain.ErrCommandNotAllowed, program)
	}

	for i, arg := range args {
		if containsUnsafe(arg) {
			return nil, fmt.Errorf("%w: argument %d %q", domain.ErrUnsafeArgument, i, arg)
		}
	}
	if containsUnsafe(dir) {
		return nil, fmt.Errorf("%w: working directory %q", domain.ErrUnsafeArgument, dir)
	}

	if hasTraversal(dir) {
		return nil, fmt.Errorf("%w: %q", domain.ErrPathTraversal, dir)
	}

	if !filepath.IsAbs(dir) || !isDescendant(g.baseDir, filepath.Clean(dir)) {
		return nil, fmt.Errorf("%w: %q is not under %q", domain.ErrPathEscapesBase, dir, g.baseDir)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", domain.ErrDirectoryNotFound, dir)
	}

	resolvedBase, err := filepath.EvalSymlinks(g.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: base dir %q: %v", domain.ErrDirectoryNotFound, g.baseDir, err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrDirectoryNotFound, dir, err)
	}
	if !isDescendant(resolvedBase, resolvedDir) {
		return nil, fmt.Errorf("%w: %q resolves to %q", domain.ErrPathEscapesBase, dir, resolvedDir)
	}

	return &Command{
		program: program,
		args:    append([]string(nil), args...),
		dir:     resolvedDir,
	}, nil
}

func containsUnsafe(s string) bool {
	return strings.ContainsAny(s, unsafeChars)
}

// hasTraversal reports whether any segment of p is "..", splitting on both
// separators so Windows-style input is caught on every platform.
func hasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// isDescendant reports whether child is strictly below base. Both must be clean.
func isDescendant(base, child string) bool {
	rel, err := filepath.Rel(base, child)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
