// Package health provides shared types for health check responses.
package health

// Response mirrors the control plane's GET /api/v1/health body.
type Response struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ConnectedClients int    `json:"connectedClients"`
	ActiveDownloads  int    `json:"activeDownloads"`
	Version          string `json:"version"`
}
