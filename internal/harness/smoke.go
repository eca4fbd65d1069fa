package harness

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// smokeTest starts the dev servers and waits for the application to
// answer. A broken application means no agent run: there is nothing an
// agent can safely iterate on.
func (h *Harness) smokeTest(ctx context.Context) error {
	if err := h.startServers(ctx); err != nil {
		return fmt.Errorf("start dev servers: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.SmokeTestTimeout)
	defer cancel()

	for {
		if err := h.smokeProbe(probeCtx); err == nil {
			log.Printf("harness: dev server ready at %s", h.cfg.DevServerAddress())
			return nil
		}
		select {
		case <-probeCtx.Done():
			return fmt.Errorf("dev server not ready after %s", h.cfg.SmokeTestTimeout)
		case <-time.After(time.Second):
		}
	}
}

// runInitScript launches the project's init.sh in the background if one
// exists. The script owns server lifecycle; the harness only probes.
func (h *Harness) runInitScript(ctx context.Context) error {
	script := h.cfg.InitScriptPath()
	if _, err := os.Stat(script); os.IsNotExist(err) {
		log.Printf("harness: no init script, assuming servers are managed externally")
		return nil
	}

	cmd := exec.CommandContext(ctx, "bash", script)
	cmd.Dir = h.cfg.RepoDir()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("run init script: %w", err)
	}
	log.Printf("harness: started init script (pid %d)", cmd.Process.Pid)
	go func() {
		// Reap the process; the script is expected to outlive the probe.
		_ = cmd.Wait()
	}()
	return nil
}

// probeDevServer checks that the application answers on its port.
func (h *Harness) probeDevServer(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.DevServerAddress(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("dev server answered %d", resp.StatusCode)
	}
	return nil
}
