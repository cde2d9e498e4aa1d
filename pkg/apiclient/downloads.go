package apiclient

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/marmos91/filepull/pkg/transfer"
)

// CreateDownloadResult is the acknowledgement for a newly queued download.
type CreateDownloadResult struct {
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
	FilePath  string `json:"filePath"`
	Status    string `json:"status"`
}

// DownloadListOptions filters and pages the download listing.
type DownloadListOptions struct {
	Status   string
	ClientID string
	Limit    int
	Offset   int
}

type createDownloadResponse struct {
	Success bool `json:"success"`
	CreateDownloadResult
}

type downloadListResponse struct {
	Success   bool                 `json:"success"`
	Downloads []*transfer.Snapshot `json:"downloads"`
	Total     int                  `json:"total"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

type downloadDetailResponse struct {
	Success  bool               `json:"success"`
	Download *transfer.Snapshot `json:"download"`
}

type cancelDownloadResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// CreateDownload asks the hub to pull filePath from the given endpoint.
func (c *Client) CreateDownload(clientID, filePath string) (*CreateDownloadResult, error) {
	body := map[string]string{
		"clientId": clientID,
		"filePath": filePath,
	}

	var resp createDownloadResponse
	if err := c.post("/downloads", body, &resp); err != nil {
		return nil, err
	}
	return &resp.CreateDownloadResult, nil
}

// ListDownloads returns download records matching the options, newest first,
// along with the total number of matches before paging.
func (c *Client) ListDownloads(opts DownloadListOptions) ([]*transfer.Snapshot, int, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.ClientID != "" {
		q.Set("clientId", opts.ClientID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/downloads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp downloadListResponse
	if err := c.get(path, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Downloads, resp.Total, nil
}

// GetDownload returns the current snapshot of a single download.
func (c *Client) GetDownload(requestID string) (*transfer.Snapshot, error) {
	var resp downloadDetailResponse
	if err := c.get(fmt.Sprintf("/downloads/%s", url.PathEscape(requestID)), &resp); err != nil {
		return nil, err
	}
	return resp.Download, nil
}

// CancelDownload cancels an in-flight download.
func (c *Client) CancelDownload(requestID string) error {
	var resp cancelDownloadResponse
	return c.delete(fmt.Sprintf("/downloads/%s", url.PathEscape(requestID)), &resp)
}
