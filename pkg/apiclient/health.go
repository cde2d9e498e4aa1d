package apiclient

// Health is the control plane health report.
type Health struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ConnectedClients int    `json:"connectedClients"`
	ActiveDownloads  int    `json:"activeDownloads"`
	Version          string `json:"version"`
}

// GetHealth returns the hub health report.
func (c *Client) GetHealth() (*Health, error) {
	var h Health
	if err := c.get("/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}
