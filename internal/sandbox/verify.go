package sandbox

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/warden/internal/config"
)

const (
	verificationStateName = ".verification-state.json"
	staleViewThreshold    = 24 * time.Hour
)

// verificationState is the on-disk shape of the viewed-screenshot record.
type verificationState struct {
	LastUpdated       time.Time            `json:"last_updated"`
	ViewedScreenshots map[string]time.Time `json:"viewed_screenshots"`
}

// verifyTracker remembers which screenshots the agent has actually viewed.
// The record survives harness restarts: it is persisted next to the
// screenshots and reloaded at session start, dropping entries older than
// a day so evidence cannot go stale across unrelated work.
type verifyTracker struct {
	mu        sync.Mutex
	statePath string
	viewed    map[string]time.Time
	now       func() time.Time
}

func newVerifyTracker(root, sessionID string) *verifyTracker {
	t := &verifyTracker{
		viewed: make(map[string]time.Time),
		now:    time.Now,
	}
	if sessionID != "" {
		t.statePath = filepath.Join(root, config.ScreenshotsDir, sessionID, verificationStateName)
		t.load()
	}
	return t
}

func (t *verifyTracker) load() {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		return
	}
	var state verificationState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("sandbox: ignoring unreadable verification state: %v", err)
		return
	}
	cutoff := t.now().Add(-staleViewThreshold)
	for path, seen := range state.ViewedScreenshots {
		if seen.After(cutoff) {
			t.viewed[path] = seen
		}
	}
	if len(t.viewed) > 0 {
		log.Printf("sandbox: restored %d viewed screenshot(s) from previous session", len(t.viewed))
	}
}

// trackRead records a view if the path is screenshot evidence: a .png or
// console capture under the screenshots directory.
func (t *verifyTracker) trackRead(path string) {
	if !strings.Contains(path, config.ScreenshotsDir+string(os.PathSeparator)) {
		return
	}
	if !strings.HasSuffix(path, ".png") && !strings.HasSuffix(path, "-console.txt") {
		return
	}

	t.mu.Lock()
	t.viewed[path] = t.now()
	t.mu.Unlock()
	t.save()
}

func (t *verifyTracker) wasViewed(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.viewed[path]
	return ok
}

func (t *verifyTracker) save() {
	if t.statePath == "" {
		return
	}
	t.mu.Lock()
	state := verificationState{
		LastUpdated:       t.now(),
		ViewedScreenshots: make(map[string]time.Time, len(t.viewed)),
	}
	for path, seen := range t.viewed {
		state.ViewedScreenshots[path] = seen
	}
	t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.statePath), 0o755); err != nil {
		log.Printf("sandbox: cannot create verification state dir: %v", err)
		return
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Printf("sandbox: cannot encode verification state: %v", err)
		return
	}
	if err := os.WriteFile(t.statePath, data, 0o644); err != nil {
		log.Printf("sandbox: cannot save verification state: %v", err)
	}
}
