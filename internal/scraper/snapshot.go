package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SnapshotManifest is written by the external browser capture tool: one
// entry per page of rendered HTML it saved.
type SnapshotManifest struct {
	CapturedAt time.Time      `json:"captured_at"`
	Pages      []SnapshotPage `json:"pages"`
}

type SnapshotPage struct {
	Page int    `json:"page"`
	File string `json:"file"`
}

// SnapshotFetcher shells out to a headless-browser capture command when a
// source's HTTP surface is walled off, then reads back the pages it saved.
// The command is opaque here; it only has to honor the environment contract
// (SNAPSHOT_DIR, SNAPSHOT_SOURCE) and write manifest.json into the dir.
type SnapshotFetcher struct {
	Command string
	Dir     string
	Timeout time.Duration
	Log     *zap.Logger
}

func (f *SnapshotFetcher) Enabled() bool {
	return f != nil && strings.TrimSpace(f.Command) != ""
}

// Fetch runs the capture command for the source and returns the rendered
// HTML of every page it produced, in page order.
func (f *SnapshotFetcher) Fetch(ctx context.Context, sourceKey string) ([]string, error) {
	if !f.Enabled() {
		return nil, fmt.Errorf("no snapshot command configured")
	}
	dir := filepath.Join(f.Dir, sourceKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(f.Command)
	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(),
		"SNAPSHOT_DIR="+dir,
		"SNAPSHOT_SOURCE="+sourceKey,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		f.Log.Warn("snapshot command failed",
			zap.String("source", sourceKey),
			zap.String("output", truncate(string(out), maxErrBody)),
			zap.Error(err))
		return nil, fmt.Errorf("snapshot command: %w", err)
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot manifest: %w", err)
	}
	var manifest SnapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode snapshot manifest: %w", err)
	}

	pages := make([]string, 0, len(manifest.Pages))
	for _, p := range manifest.Pages {
		html, err := os.ReadFile(filepath.Join(dir, p.File))
		if err != nil {
			return nil, fmt.Errorf("read snapshot page %d: %w", p.Page, err)
		}
		pages = append(pages, string(html))
	}
	return pages, nil
}
