package sandbox

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Policy describes what an agent session may execute and touch. The zero
// value denies everything; start from DefaultPolicy and override via a
// YAML policy file when a project needs a different toolchain.
type Policy struct {
	// AllowedCommands is the executable allow-list, matched against the
	// first token of each command.
	AllowedCommands []string `yaml:"allowed_commands"`
	// AllowedRmCommands lists full rm invocations permitted verbatim.
	AllowedRmCommands []string `yaml:"allowed_rm_commands"`
	// AllowedNodePatterns lists substrings at least one of which a node
	// invocation must contain.
	AllowedNodePatterns []string `yaml:"allowed_node_patterns"`
	// AllowedPkillCommands lists full pkill invocations permitted verbatim.
	AllowedPkillCommands []string `yaml:"allowed_pkill_commands"`
	// BlockedCommandPatterns are regexes matched case-insensitively against
	// the whole command line. Any match denies the command regardless of
	// the executable.
	BlockedCommandPatterns []string `yaml:"blocked_command_patterns"`
	// AllowedFetchHosts lists hosts curl/wget may reach. Anything else is
	// treated as an external network fetch and denied.
	AllowedFetchHosts []string `yaml:"allowed_fetch_hosts"`
}

// DefaultPolicy returns the policy used for unattended app-building
// sessions: the node/npm toolchain, common inspection commands, and git,
// with destructive and bulk-edit invocations fenced off.
func DefaultPolicy() *Policy {
	return &Policy{
		AllowedCommands: []string{
			"npm", "npx", "pnpm", "node", "curl",
			"mkdir", "echo", "ls", "cat", "cd", "pwd", "touch",
			"lsof", "ps", "jq", "sed", "awk", "find", "git", "cp",
			"wc", "grep", "sleep", "kill", "tail", "sqlite3",
			"netstat", "rg", "chmod", "./init.sh", "test", "which",
			"time", "head", "playwright", "google-chrome",
		},
		AllowedRmCommands: []string{"rm -rf node_modules"},
		AllowedNodePatterns: []string{
			"server.js", "server/index.js", "playwright-test.cjs",
		},
		AllowedPkillCommands: []string{
			`pkill -f "node server/index.js"`,
			`pkill -f "node server.js"`,
			`pkill -f "vite"`,
			`pkill -f "chrome"`,
		},
		BlockedCommandPatterns: []string{
			// No bulk edits of recorded task outcomes. The agent must use
			// the write tool so each flip goes through verification.
			`sed.*passes.*feature_list\.json`,
			`sed.*feature_list\.json.*passes`,
			`sed.*false.*true.*feature_list\.json`,
			`sed.*true.*false.*feature_list\.json`,
			`awk.*feature_list\.json`,
			`jq.*feature_list\.json`,
			`python3?\s.*feature_list\.json`,
			`node\s.*feature_list\.json`,
			`echo.*>.*feature_list\.json`,
			`cat.*>.*feature_list\.json`,
			`printf.*>.*feature_list\.json`,
			`tee.*feature_list\.json`,
			`>.*feature_list\.json`,
		},
		AllowedFetchHosts: []string{"localhost", "127.0.0.1"},
	}
}

// LoadPolicy loads a policy from a YAML file, falling back to the default
// when the file does not exist.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Validate checks that every blocked pattern compiles.
func (p *Policy) Validate() error {
	if len(p.AllowedCommands) == 0 {
		return fmt.Errorf("allowed_commands cannot be empty")
	}
	for _, pat := range p.BlockedCommandPatterns {
		if _, err := regexp.Compile("(?i)" + pat); err != nil {
			return fmt.Errorf("blocked pattern %q: %w", pat, err)
		}
	}
	return nil
}

func (p *Policy) compileBlocked() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(p.BlockedCommandPatterns))
	for _, pat := range p.BlockedCommandPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("blocked pattern %q: %w", pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (p *Policy) commandAllowed(name string) bool {
	for _, c := range p.AllowedCommands {
		if c == name {
			return true
		}
	}
	return false
}

func (p *Policy) fetchHostAllowed(host string) bool {
	for _, h := range p.AllowedFetchHosts {
		if h == host {
			return true
		}
	}
	return false
}
