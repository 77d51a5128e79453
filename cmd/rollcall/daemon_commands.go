package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
	"rollcall/internal/daemon"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopTimeout  = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the rollcall daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon(cmd, ctx)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the rollcall daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd, ctx)
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the rollcall daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(cmd, ctx); err != nil {
				return err
			}
			return startDaemon(cmd, ctx)
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd}
}

func startDaemon(cmd *cobra.Command, ctx *commandContext) error {
	stdout := cmd.OutOrStdout()
	cfg := ctx.configValue()
	if cfg == nil {
		return errors.New("configuration unavailable")
	}

	running, err := daemon.InstanceRunning(cfg)
	if err != nil {
		return err
	}
	if running {
		fmt.Fprintln(stdout, "Daemon already running")
		return nil
	}

	exe, err := daemonExecutable()
	if err != nil {
		return err
	}

	launchArgs := []string{}
	if ctx.configFlag != nil && strings.TrimSpace(*ctx.configFlag) != "" {
		launchArgs = append(launchArgs, "--config", strings.TrimSpace(*ctx.configFlag))
	}
	child := exec.Command(exe, launchArgs...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", exe, err)
	}
	// The daemon survives the CLI; drop the handle without waiting.
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	fmt.Fprintln(stdout, "Launching daemon...")
	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		running, err := daemon.InstanceRunning(cfg)
		if err == nil && running {
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not take the lock within %s; check %s", daemonStartTimeout, filepath.Join(cfg.Paths.LogDir, "rollcall.log"))
}

func stopDaemon(cmd *cobra.Command, ctx *commandContext) error {
	stdout := cmd.OutOrStdout()
	cfg := ctx.configValue()
	if cfg == nil {
		return errors.New("configuration unavailable")
	}

	running, err := daemon.InstanceRunning(cfg)
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintln(stdout, "Daemon is not running")
		return nil
	}

	pid, err := readDaemonPID(cfg)
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}

	fmt.Fprintf(stdout, "Stopping daemon (pid %d)...\n", pid)
	deadline := time.Now().Add(daemonStopTimeout)
	for time.Now().Before(deadline) {
		running, err := daemon.InstanceRunning(cfg)
		if err == nil && !running {
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon still holds the lock after %s; a processing job may be finishing", daemonStopTimeout)
}

func readDaemonPID(cfg *config.Config) (int, error) {
	pidPath := filepath.Join(cfg.Paths.StateDir, "rollcalld.pid")
	raw, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds %q, not a pid", pidPath, strings.TrimSpace(string(raw)))
	}
	return pid, nil
}

// daemonExecutable finds rollcalld next to the CLI binary first, then on
// PATH.
func daemonExecutable() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "rollcalld")
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("rollcalld")
	if err != nil {
		return "", errors.New("rollcalld binary not found next to rollcall or on PATH")
	}
	return path, nil
}
