package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	appLog "weekcal/internal/log"
	"weekcal/internal/model"
)

// HTTP fetches a JSON array of RawEvent from a URL.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

func (h *HTTP) Fetch(ctx context.Context) ([]model.RawEvent, error) {
	if h.url == "" {
		return nil, fail("http", errors.New("source URL is empty"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fail("http", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fail("http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail("http", errors.New(resp.Status))
	}

	var events []model.RawEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fail("http", fmt.Errorf("decoding events: %w", err))
	}
	if events == nil {
		events = []model.RawEvent{}
	}

	appLog.Info("http source fetched", "url", redactURL(h.url), "event_count", len(events))
	return events, nil
}

// redactURL hides path and query of a URL for logging, e.g.
// https://example.com/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
