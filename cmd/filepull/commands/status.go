package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/filepull/internal/cli/health"
	"github.com/marmos91/filepull/internal/cli/output"
	"github.com/marmos91/filepull/internal/cli/timeutil"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hub status",
	Long: `Display the current status of the filepull hub.

This command checks the hub health by calling the health endpoint and
displays uptime, connected endpoint agents, and active downloads.

Examples:
  # Check status (uses default settings)
  filepull status

  # Check status with custom API port
  filepull status --api-port 3100

  # Output as JSON
  filepull status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/filepull/filepull.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 3000, "Control plane API port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// HubStatus represents the hub status information.
type HubStatus struct {
	Running          bool   `json:"running" yaml:"running"`
	PID              int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message          string `json:"message" yaml:"message"`
	Healthy          bool   `json:"healthy" yaml:"healthy"`
	Uptime           string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	ConnectedClients int    `json:"connected_clients" yaml:"connected_clients"`
	ActiveDownloads  int    `json:"active_downloads" yaml:"active_downloads"`
	Version          string `json:"version,omitempty" yaml:"version,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := HubStatus{
		Running: false,
		Healthy: false,
		Message: "Hub is not running",
	}

	// Use default PID file if not specified
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	pidData, err := os.ReadFile(pidPath)
	if err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err == nil {
			// Check if process is running
			process, err := os.FindProcess(pid)
			if err == nil {
				// On Unix, FindProcess always succeeds, we need to send signal 0 to check
				err = process.Signal(syscall.Signal(0))
				if err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	// Check health endpoint (works for both daemon and foreground mode)
	healthURL := fmt.Sprintf("http://localhost:%d/api/v1/health", statusAPIPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(healthURL)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()

		var healthResp health.Response
		if err := json.NewDecoder(resp.Body).Decode(&healthResp); err == nil {
			status.Running = true
			status.Healthy = healthResp.Status == "healthy"
			status.Uptime = healthResp.Uptime
			status.ConnectedClients = healthResp.ConnectedClients
			status.ActiveDownloads = healthResp.ActiveDownloads
			status.Version = healthResp.Version
			if status.Healthy {
				status.Message = "Hub is running and healthy"
			} else {
				status.Message = fmt.Sprintf("Hub is running but unhealthy: %s", healthResp.Status)
			}
		} else {
			status.Running = true
			status.Message = "Hub is running but health response invalid"
		}
	} else if status.Running {
		// PID file says running but health check failed
		status.Message = "Hub process exists but health check failed"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status HubStatus) {
	fmt.Println()
	fmt.Println("Filepull Hub Status")
	fmt.Println("===================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:      \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:      \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:         %d\n", status.PID)
		}
		if status.Version != "" {
			fmt.Printf("  Version:     %s\n", status.Version)
		}
		if status.Uptime != "" {
			fmt.Printf("  Uptime:      %s\n", timeutil.FormatUptime(status.Uptime))
		}
		fmt.Printf("  Endpoints:   %d connected\n", status.ConnectedClients)
		fmt.Printf("  Downloads:   %d active\n", status.ActiveDownloads)
	} else {
		fmt.Printf("  Status:      \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
