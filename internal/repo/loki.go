// Package repo holds clients for upstream data sources.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediation/internal/utils"
)

// LokiEntry is one log line of a stream.
type LokiEntry struct {
	Timestamp time.Time
	// UnixNano is the exact timestamp Loki reported, used for watermarks.
	UnixNano int64
	Line     string
}

// LokiStream is a labelled series of log lines.
type LokiStream struct {
	Labels  map[string]string
	Entries []LokiEntry
}

// LokiClient queries the Loki HTTP API.
type LokiClient struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client
}

// NewLokiClient constructs a client targeting baseURL. tenantID, when set, is
// sent as X-Scope-OrgID.
func NewLokiClient(baseURL, tenantID string, timeout time.Duration) *LokiClient {
	return &LokiClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// QueryRange runs a LogQL stream query. A positive startNs bounds the range
// from below (inclusive); limit caps the number of returned lines.
func (c *LokiClient) QueryRange(ctx context.Context, query string, startNs int64, limit int) ([]LokiStream, error) {
	if c == nil {
		return nil, fmt.Errorf("loki client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("loki base URL not configured")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("direction", "forward")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if startNs > 0 {
		params.Set("start", strconv.FormatInt(startNs, 10))
	}

	var response struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string `json:"resultType"`
			Result     []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.resolvePath("/loki/api/v1/query_range")+"?"+params.Encode(), &response); err != nil {
		return nil, fmt.Errorf("loki query_range failed: %w", err)
	}
	if response.Status != "" && response.Status != "success" {
		return nil, fmt.Errorf("loki query_range returned status %q", response.Status)
	}

	streams := make([]LokiStream, 0, len(response.Data.Result))
	for _, res := range response.Data.Result {
		stream := LokiStream{Labels: res.Stream, Entries: make([]LokiEntry, 0, len(res.Values))}
		for _, v := range res.Values {
			ts, ns, err := utils.ParseUnixNano(v[0])
			if err != nil {
				return nil, fmt.Errorf("loki stream value: %w", err)
			}
			stream.Entries = append(stream.Entries, LokiEntry{Timestamp: ts, UnixNano: ns, Line: v[1]})
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// Ready reports whether Loki answers its readiness probe.
func (c *LokiClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolvePath("/ready"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki not ready: %s", resp.Status)
	}
	return nil
}

func (c *LokiClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *LokiClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.tenantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
