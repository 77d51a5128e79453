package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/testsupport"
)

// newTestContext builds a command context primed with a temp-dir config so
// commands never touch the real config path.
func newTestContext(t *testing.T, opts ...testsupport.ConfigOption) (*commandContext, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	ctx := &commandContext{config: cfg}
	ctx.configOnce.Do(func() {})
	return ctx, cfg
}

// runCommand executes a cobra command with args and returns captured stdout.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

// seedJob enqueues one job directly through the store layer.
func seedJob(t *testing.T, cfg *config.Config, episodeID string) *queue.Job {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)
	audio := filepath.Join(cfg.Paths.ArchiveDir, episodeID+".wav")
	testsupport.WriteFile(t, audio, 64)
	return testsupport.NewJob(t, store, episodeID, audio)
}
