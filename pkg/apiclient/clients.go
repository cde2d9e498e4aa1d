package apiclient

import (
	"fmt"
	"net/url"

	"github.com/marmos91/filepull/pkg/hub"
	"github.com/marmos91/filepull/pkg/transfer"
)

// ClientDetail is a connected or previously seen endpoint with its
// download history.
type ClientDetail struct {
	hub.ClientSnapshot
	DownloadHistory []*transfer.Snapshot `json:"downloadHistory"`
}

type clientListResponse struct {
	Success bool                 `json:"success"`
	Clients []hub.ClientSnapshot `json:"clients"`
	Total   int                  `json:"total"`
}

type clientDetailResponse struct {
	Success bool         `json:"success"`
	Client  ClientDetail `json:"client"`
}

// ListClients returns connected endpoint agents. Pass a status of
// "connected" to filter, or "" for all.
func (c *Client) ListClients(status string) ([]hub.ClientSnapshot, error) {
	path := "/clients"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var resp clientListResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// GetClient returns a single endpoint with its download history.
func (c *Client) GetClient(clientID string) (*ClientDetail, error) {
	var resp clientDetailResponse
	if err := c.get(fmt.Sprintf("/clients/%s", url.PathEscape(clientID)), &resp); err != nil {
		return nil, err
	}
	return &resp.Client, nil
}
