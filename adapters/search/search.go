package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aletheia/internal/errors"
)

// academicDomains narrows academic retrieval when the task names no allow list
var academicDomains = []string{
	"arxiv.org",
	"ncbi.nlm.nih.gov",
	"nature.com",
	"sciencedirect.com",
	"springer.com",
	"semanticscholar.org",
	"acm.org",
	"ieee.org",
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate accepts the date formats providers emit; unknown formats yield nil
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// doJSON executes a request and decodes a JSON body into out
func doJSON(client *http.Client, req *http.Request, provider string, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return errors.ExternalServiceError(provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(raw)
		if len(body) > 256 {
			body = body[:256]
		}
		return errors.ExternalServiceError(provider, fmt.Errorf("http %d: %s", resp.StatusCode, body))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func postJSON(ctx context.Context, url string, body interface{}) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
