// Package sandbox arbitrates every tool call an agent session makes:
// file reads, file writes, and shell commands. All three go through a
// single Authorize entry point and come back as an explicit Decision;
// denials carry a remediation hint and every decision is audited.
package sandbox

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/fentz26/warden/internal/audit"
	"github.com/fentz26/warden/internal/config"
)

// Sandbox confines one agent session to a project root under a policy.
type Sandbox struct {
	root      string
	sessionID string
	policy    *Policy
	blocked   []*regexp.Regexp
	audit     *audit.Logger
	verify    *verifyTracker
}

// New builds a sandbox rooted at root. The root must exist; session-scoped
// verification state is loaded from previous invocations if present.
func New(root, sessionID string, policy *Policy, auditLog *audit.Logger) (*Sandbox, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	blocked, err := policy.compileBlocked()
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	if auditLog == nil {
		auditLog = audit.Disabled()
	}
	return &Sandbox{
		root:      absRoot,
		sessionID: sessionID,
		policy:    policy,
		blocked:   blocked,
		audit:     auditLog,
		verify:    newVerifyTracker(absRoot, sessionID),
	}, nil
}

// Authorize decides one tool call. It never returns an error: every
// outcome, including malformed requests, is a Decision.
func (s *Sandbox) Authorize(req ToolCallRequest) Decision {
	switch r := req.(type) {
	case FileRead:
		return s.authorizeRead(r)
	case FileWrite:
		return s.authorizeWrite(r)
	case CommandRun:
		return s.authorizeCommand(r)
	default:
		return denied(CategoryCommand, "unknown tool call type", "")
	}
}

// TrackRead records that the agent viewed a file. Screenshot views feed
// the pass-verification check; other paths are ignored.
func (s *Sandbox) TrackRead(path string) {
	s.verify.trackRead(s.resolve(path))
}

func (s *Sandbox) authorizeRead(r FileRead) Decision {
	if r.Path == "" {
		return denied(CategoryPath, "no file path in read request", "")
	}
	if resolved, ok := s.within(r.Path); !ok {
		d := denied(CategoryPath,
			fmt.Sprintf("path %s resolves outside the project root %s", r.Path, s.root),
			"use paths inside the project directory")
		s.audit.FileOp("read", resolved, false, d.Reason)
		return d
	}
	s.audit.FileOp("read", r.Path, true, "")
	return allowed()
}

func (s *Sandbox) authorizeWrite(r FileWrite) Decision {
	if r.Path == "" {
		return denied(CategoryPath, "no file path in write request", "")
	}
	resolved, ok := s.within(r.Path)
	if !ok {
		d := denied(CategoryPath,
			fmt.Sprintf("path %s resolves outside the project root %s", r.Path, s.root),
			"use paths inside the project directory")
		s.audit.FileOp("write", resolved, false, d.Reason)
		return d
	}

	if filepath.Base(resolved) == config.FeatureListName {
		if d := s.checkFeatureListWrite(r); !d.Allow {
			s.audit.FileOp("write", resolved, false, d.Reason)
			return d
		}
	}

	s.audit.FileOp("write", r.Path, true, "")
	return allowed()
}

var passesTrueRe = regexp.MustCompile(`"passes"\s*:\s*true`)

// checkFeatureListWrite guards the task outcome file. A single write may
// flip at most one task to passing, and only with viewed screenshot
// evidence for that task.
func (s *Sandbox) checkFeatureListWrite(r FileWrite) Decision {
	flips := len(passesTrueRe.FindAllString(r.NewString, -1)) -
		len(passesTrueRe.FindAllString(r.OldString, -1))
	if flips <= 0 {
		return allowed()
	}
	if flips > 1 {
		return denied(CategoryVerification,
			fmt.Sprintf("write flips %d tasks to passing at once", flips),
			"mark tasks as passing one at a time, each with its own screenshot evidence")
	}

	taskID := extractTaskID(r.OldString + r.NewString)
	if taskID == "" {
		return denied(CategoryVerification,
			"cannot determine which task this edit marks as passing",
			`include the task's "id" field in the edited region`)
	}

	pattern := filepath.Join(s.screenshotDir(), taskID+"-*.png")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return denied(CategoryVerification,
			fmt.Sprintf("no screenshot found for task %s", taskID),
			fmt.Sprintf("take a screenshot matching %s, then view it before marking the task as passing", pattern))
	}
	for _, m := range matches {
		if s.verify.wasViewed(s.resolve(m)) {
			return allowed()
		}
	}
	return denied(CategoryVerification,
		fmt.Sprintf("screenshot exists for task %s but was never viewed", taskID),
		fmt.Sprintf("read %s to verify the result before marking the task as passing", matches[0]))
}

var taskIDRe = regexp.MustCompile(`"id"\s*:\s*"([^"]+)"`)

func extractTaskID(context string) string {
	if m := taskIDRe.FindStringSubmatch(context); m != nil {
		return m[1]
	}
	return ""
}

// pathSensitiveCommands commonly take file paths as arguments and get
// their arguments checked against the project root.
var pathSensitiveCommands = map[string]bool{
	"cat": true, "less": true, "more": true, "head": true, "tail": true,
	"file": true, "stat": true, "cp": true, "mv": true, "rm": true,
	"mkdir": true, "rmdir": true, "touch": true, "chmod": true,
	"chown": true, "ls": true, "find": true, "grep": true, "rg": true,
	"git": true, "node": true, "npm": true, "tar": true, "unzip": true,
	"sed": true, "awk": true, "jq": true, "sqlite3": true,
}

func (s *Sandbox) authorizeCommand(r CommandRun) Decision {
	command := strings.TrimSpace(r.Command)
	if command == "" {
		return denied(CategoryCommand, "empty command", "")
	}

	// Bulk-edit patterns apply to the whole command line, before any
	// per-executable logic: a pipeline ending in "> feature_list.json" is
	// denied no matter what runs in front of it.
	for _, re := range s.blocked {
		if re.MatchString(command) {
			d := denied(CategoryCommand,
				fmt.Sprintf("command matches blocked pattern %s", re.String()),
				"edit the task list through the write tool, one task at a time")
			s.audit.Command(command, false, d.Reason)
			return d
		}
	}

	tokens, err := shellquote.Split(command)
	if err != nil || len(tokens) == 0 {
		// Unparseable quoting; the shell will reject it anyway.
		s.audit.Command(command, true, "")
		return allowed()
	}
	name := tokens[0]

	if d := s.checkCommandPaths(command, name, tokens[1:]); !d.Allow {
		s.audit.Command(command, false, d.Reason)
		return d
	}

	var d Decision
	switch name {
	case "rm":
		d = s.checkExactCommand(command, s.policy.AllowedRmCommands,
			"rm is only allowed for cleaning build artifacts")
	case "pkill":
		d = s.checkExactCommand(command, s.policy.AllowedPkillCommands,
			"pkill is only allowed for the dev server and browser processes")
	case "node":
		d = s.checkNodeCommand(command)
	case "curl", "wget":
		d = s.checkFetchCommand(tokens[1:])
	case "git":
		d = s.checkGitCommand(tokens)
	default:
		d = s.checkAllowList(name)
	}

	s.audit.Command(command, d.Allow, d.Reason)
	return d
}

func (s *Sandbox) checkAllowList(name string) Decision {
	if s.policy.commandAllowed(name) {
		return allowed()
	}
	return denied(CategoryCommand,
		fmt.Sprintf("command %q is not in the allowed list", name),
		fmt.Sprintf("allowed commands: %s", strings.Join(s.policy.AllowedCommands, ", ")))
}

func (s *Sandbox) checkExactCommand(command string, allowedList []string, hint string) Decision {
	for _, a := range allowedList {
		if command == a {
			return allowed()
		}
	}
	return denied(CategoryCommand,
		fmt.Sprintf("%q does not match an allowed invocation", command), hint)
}

func (s *Sandbox) checkNodeCommand(command string) Decision {
	for _, pat := range s.policy.AllowedNodePatterns {
		if strings.Contains(command, pat) {
			return allowed()
		}
	}
	return denied(CategoryCommand,
		"node is only allowed to run the project's server and test scripts",
		fmt.Sprintf("allowed node targets: %s", strings.Join(s.policy.AllowedNodePatterns, ", ")))
}

// checkFetchCommand denies curl/wget against anything but the local dev
// server. Sessions build and probe locally; they do not reach out.
func (s *Sandbox) checkFetchCommand(args []string) Decision {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if !strings.Contains(arg, "://") && !strings.Contains(arg, ".") {
			continue
		}
		raw := arg
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if !s.policy.fetchHostAllowed(u.Hostname()) {
			return denied(CategoryCommand,
				fmt.Sprintf("network fetch to external host %q", u.Hostname()),
				"only the local dev server may be fetched")
		}
	}
	return allowed()
}

func (s *Sandbox) checkGitCommand(tokens []string) Decision {
	if len(tokens) >= 2 && tokens[1] == "init" {
		return denied(CategoryCommand,
			"git init would create a nested repository and break commit tracking",
			"use the repository that is already checked out")
	}
	return s.checkAllowList("git")
}

// checkCommandPaths scans path-looking arguments of path-sensitive
// commands and denies any that resolve outside the project root.
func (s *Sandbox) checkCommandPaths(command, name string, args []string) Decision {
	if !pathSensitiveCommands[name] {
		return allowed()
	}
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if !looksLikePath(arg) {
			continue
		}
		if arg == "/dev/null" || strings.Contains(arg, "://") {
			continue
		}
		if _, ok := s.within(arg); !ok {
			return denied(CategoryPath,
				fmt.Sprintf("command argument %s resolves outside the project root", arg),
				"operate on paths inside the project directory")
		}
	}
	return allowed()
}

func looksLikePath(token string) bool {
	return strings.Contains(token, "/") ||
		strings.HasPrefix(token, "~") ||
		strings.HasPrefix(token, ".")
}

// resolve maps a request path to an absolute, symlink-resolved path. A
// path that does not exist yet is resolved through its parent directory.
func (s *Sandbox) resolve(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, base := filepath.Split(abs)
	if rdir, err := filepath.EvalSymlinks(filepath.Clean(dir)); err == nil {
		return filepath.Join(rdir, base)
	}
	return abs
}

// within reports whether path stays inside the project root after
// resolving relative segments and symlinks.
func (s *Sandbox) within(path string) (string, bool) {
	resolved := s.resolve(path)

	root := s.root
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return resolved, false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return resolved, false
	}
	return resolved, true
}

func (s *Sandbox) screenshotDir() string {
	return filepath.Join(s.root, config.ScreenshotsDir, s.sessionID)
}
