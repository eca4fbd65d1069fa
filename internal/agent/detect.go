package agent

import (
	"os/exec"
	"strings"
)

// CLI is a coding-agent command found on PATH.
type CLI struct {
	Name    string
	Path    string
	Version string
}

// Agent CLIs we know how to hand a prompt to.
var knownCLIs = []string{"claude", "aider", "gemini", "codex", "goose"}

// DetectCLIs scans PATH for known coding-agent CLIs. Used to give the
// operator a useful hint when no agent command is configured.
func DetectCLIs() []CLI {
	var found []CLI
	for _, name := range knownCLIs {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		found = append(found, CLI{Name: name, Path: path, Version: cliVersion(path)})
	}
	return found
}

func cliVersion(path string) string {
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(out))
	if i := strings.IndexByte(v, '\n'); i > 0 {
		v = v[:i]
	}
	if len(v) > 30 {
		v = v[:30]
	}
	return v
}
