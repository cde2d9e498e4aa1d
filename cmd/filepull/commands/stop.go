package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopTimeout time.Duration
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running filepull hub",
	Long: `Stop a filepull hub started in daemon mode.

The command sends SIGTERM to the process recorded in the PID file and waits
for it to exit. Use --force to send SIGKILL if the process does not stop
within the timeout.

Examples:
  # Graceful stop
  filepull stop

  # Kill if graceful shutdown takes longer than 10 seconds
  filepull stop --timeout 10s --force`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/filepull/filepull.pid)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long to wait for graceful shutdown")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "Send SIGKILL if the process does not stop within the timeout")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pidData, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("filepull is not running (no PID file at %s)", pidPath)
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return fmt.Errorf("invalid PID file %s: %w", pidPath, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		// Stale PID file, clean up
		_ = os.Remove(pidPath)
		return fmt.Errorf("filepull is not running (stale PID file removed)")
	}

	fmt.Printf("Stopping filepull (PID %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("Stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if !stopForce {
		return fmt.Errorf("process %d did not stop within %s (use --force to kill)", pid, stopTimeout)
	}

	fmt.Printf("Process %d did not stop within %s, sending SIGKILL\n", pid, stopTimeout)
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	_ = os.Remove(pidPath)
	fmt.Println("Killed")
	return nil
}
