package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/filepull/internal/cli/output"
	"github.com/marmos91/filepull/pkg/apiclient"
)

var (
	downloadsOutput  string
	downloadsAPIPort int
	downloadsStatus  string
	downloadsClient  string
	downloadsLimit   int
	downloadsOffset  int
	downloadsCreate  string
	downloadsCancel  bool
)

var downloadsCmd = &cobra.Command{
	Use:   "downloads [requestId]",
	Short: "List and manage downloads",
	Long: `List download requests, inspect a single download, queue a new one,
or cancel one in flight.

Examples:
  # List recent downloads
  filepull downloads

  # Only failed downloads for one agent
  filepull downloads --status failed --client edge-001

  # Inspect one download
  filepull downloads 3f1a6f9e-8c1d-4a52-9f0e-2f86a1f3b945

  # Queue a new download from an agent
  filepull downloads --create /var/log/syslog --client edge-001

  # Cancel an in-flight download
  filepull downloads 3f1a6f9e-8c1d-4a52-9f0e-2f86a1f3b945 --cancel`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownloads,
}

func init() {
	downloadsCmd.Flags().IntVar(&downloadsAPIPort, "api-port", 3000, "Control plane API port")
	downloadsCmd.Flags().StringVar(&downloadsStatus, "status", "", "Filter by status (pending|in_progress|completed|failed|cancelled)")
	downloadsCmd.Flags().StringVar(&downloadsClient, "client", "", "Filter by client ID (required with --create)")
	downloadsCmd.Flags().IntVar(&downloadsLimit, "limit", 50, "Maximum number of results")
	downloadsCmd.Flags().IntVar(&downloadsOffset, "offset", 0, "Number of results to skip")
	downloadsCmd.Flags().StringVar(&downloadsCreate, "create", "", "Queue a download of this file path from --client")
	downloadsCmd.Flags().BoolVar(&downloadsCancel, "cancel", false, "Cancel the given download")
	downloadsCmd.Flags().StringVarP(&downloadsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runDownloads(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(downloadsOutput)
	if err != nil {
		return err
	}

	client := apiclient.New(fmt.Sprintf("http://localhost:%d", downloadsAPIPort))

	if downloadsCreate != "" {
		if downloadsClient == "" {
			return fmt.Errorf("--create requires --client")
		}
		result, err := client.CreateDownload(downloadsClient, downloadsCreate)
		if err != nil {
			return err
		}
		fmt.Printf("Download queued: %s\n", result.RequestID)
		fmt.Printf("  Client: %s\n", result.ClientID)
		fmt.Printf("  File:   %s\n", result.FilePath)
		fmt.Printf("\nTrack it with: filepull downloads %s\n", result.RequestID)
		return nil
	}

	if downloadsCancel {
		if len(args) != 1 {
			return fmt.Errorf("--cancel requires a request ID argument")
		}
		if err := client.CancelDownload(args[0]); err != nil {
			return err
		}
		fmt.Printf("Download cancelled: %s\n", args[0])
		return nil
	}

	if len(args) == 1 {
		return showDownload(client, args[0], format)
	}

	downloads, total, err := client.ListDownloads(apiclient.DownloadListOptions{
		Status:   downloadsStatus,
		ClientID: downloadsClient,
		Limit:    downloadsLimit,
		Offset:   downloadsOffset,
	})
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, downloads)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, downloads)
	default:
		if len(downloads) == 0 {
			fmt.Println("No downloads found")
			return nil
		}
		table := output.NewTableData("Request ID", "Client", "Status", "Progress", "File")
		for _, d := range downloads {
			table.AddRow(d.RequestID, d.ClientID, string(d.Status),
				fmt.Sprintf("%d%%", d.Progress.Percentage), d.FilePath)
		}
		if err := output.PrintTable(os.Stdout, table); err != nil {
			return err
		}
		if total > len(downloads) {
			fmt.Printf("\nShowing %d of %d (use --limit and --offset to page)\n", len(downloads), total)
		}
		return nil
	}
}

func showDownload(client *apiclient.Client, requestID string, format output.Format) error {
	snap, err := client.GetDownload(requestID)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, snap)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, snap)
	default:
		fmt.Printf("Request ID:  %s\n", snap.RequestID)
		fmt.Printf("Client:      %s\n", snap.ClientID)
		fmt.Printf("File:        %s\n", snap.FilePath)
		fmt.Printf("Status:      %s\n", snap.Status)
		fmt.Printf("Progress:    %d%% (%d/%d chunks, %d bytes)\n",
			snap.Progress.Percentage, snap.Progress.ChunksReceived,
			snap.Progress.TotalChunks, snap.Progress.BytesReceived)
		if len(snap.Progress.RetriedChunks) > 0 {
			fmt.Printf("Retries:     %d chunks retried\n", len(snap.Progress.RetriedChunks))
		}
		if snap.OutputPath != "" {
			fmt.Printf("Output:      %s\n", snap.OutputPath)
		}
		if snap.Duration != "" {
			fmt.Printf("Duration:    %s\n", snap.Duration)
		}
		if snap.Error != nil {
			fmt.Printf("Error:       %s: %s\n", snap.Error.Code, snap.Error.Message)
		}
		return nil
	}
}
