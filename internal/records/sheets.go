// Package records copies finished leads to the back office: a spreadsheet
// row and an admin mail. Both channels are best effort.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"estimate_backend/platform/config"
)

const sheetsTimeout = 10 * time.Second

// SheetsClient appends rows through the Google Sheets values API.
type SheetsClient struct {
	baseURL       string
	spreadsheetID string
	rangeA1       string
	accessToken   string
	http          *http.Client
}

// NewSheetsClient returns nil when Sheets is not configured.
func NewSheetsClient(cfg config.SheetsConfig) *SheetsClient {
	if !cfg.IsSheetsEnabled() {
		return nil
	}
	return &SheetsClient{
		baseURL:       strings.TrimRight(cfg.GetSheetsAPIBaseURL(), "/"),
		spreadsheetID: cfg.GetSheetsSpreadsheetID(),
		rangeA1:       cfg.GetSheetsRange(),
		accessToken:   cfg.GetSheetsAccessToken(),
		http:          &http.Client{Timeout: sheetsTimeout},
	}
}

type appendRequest struct {
	Values [][]string `json:"values"`
}

// AppendRow adds one row after the last filled row of the configured range.
func (c *SheetsClient) AppendRow(ctx context.Context, columns []string) error {
	if c == nil {
		return nil
	}

	payload, err := json.Marshal(appendRequest{Values: [][]string{columns}})
	if err != nil {
		return fmt.Errorf("marshal sheets row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS",
		c.baseURL, url.PathEscape(c.spreadsheetID), url.PathEscape(c.rangeA1))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sheets request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sheets append: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sheets append returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
