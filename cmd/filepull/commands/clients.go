package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/filepull/internal/cli/output"
	"github.com/marmos91/filepull/internal/cli/timeutil"
	"github.com/marmos91/filepull/pkg/apiclient"
)

var (
	clientsOutput  string
	clientsAPIPort int
	clientsStatus  string
)

var clientsCmd = &cobra.Command{
	Use:   "clients [clientId]",
	Short: "List connected endpoint agents",
	Long: `List the endpoint agents connected to the hub, or show one agent in
detail including its download history.

Examples:
  # List all connected agents
  filepull clients

  # Show one agent with its download history
  filepull clients edge-001

  # Output as JSON
  filepull clients --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClients,
}

func init() {
	clientsCmd.Flags().IntVar(&clientsAPIPort, "api-port", 3000, "Control plane API port")
	clientsCmd.Flags().StringVar(&clientsStatus, "status", "", "Filter by status (connected)")
	clientsCmd.Flags().StringVarP(&clientsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runClients(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(clientsOutput)
	if err != nil {
		return err
	}

	client := apiclient.New(fmt.Sprintf("http://localhost:%d", clientsAPIPort))

	if len(args) == 1 {
		return showClient(client, args[0], format)
	}

	clients, err := client.ListClients(clientsStatus)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, clients)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, clients)
	default:
		if len(clients) == 0 {
			fmt.Println("No endpoint agents connected")
			return nil
		}
		table := output.NewTableData("Client ID", "Status", "Remote Addr", "Connected", "Last Heartbeat")
		for _, c := range clients {
			table.AddRow(c.ClientID, c.Status, c.RemoteAddr,
				timeutil.FormatTime(c.ConnectedAt),
				timeutil.FormatAge(c.LastHeartbeat)+" ago")
		}
		return output.PrintTable(os.Stdout, table)
	}
}

func showClient(client *apiclient.Client, clientID string, format output.Format) error {
	detail, err := client.GetClient(clientID)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, detail)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, detail)
	default:
		fmt.Printf("Client:          %s\n", detail.ClientID)
		fmt.Printf("Status:          %s\n", detail.Status)
		fmt.Printf("Remote address:  %s\n", detail.RemoteAddr)
		fmt.Printf("Connected:       %s\n", timeutil.FormatTime(detail.ConnectedAt))
		fmt.Printf("Last heartbeat:  %s ago\n", timeutil.FormatAge(detail.LastHeartbeat))
		if detail.Metadata != nil {
			fmt.Printf("Platform:        %s %s\n", detail.Metadata.Platform, detail.Metadata.Hostname)
		}

		if len(detail.DownloadHistory) == 0 {
			fmt.Println("\nNo downloads recorded")
			return nil
		}

		fmt.Println()
		table := output.NewTableData("Request ID", "Status", "File", "Progress")
		for _, d := range detail.DownloadHistory {
			table.AddRow(d.RequestID, string(d.Status), d.FilePath,
				fmt.Sprintf("%d%%", d.Progress.Percentage))
		}
		return output.PrintTable(os.Stdout, table)
	}
}
