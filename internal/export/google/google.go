// Package google appends monthly reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"expensetracker/internal/core"
	"expensetracker/internal/export"
)

var _ export.ReportWriter = (*Client)(nil)

// indirection for tests
var jsonUnmarshal = json.Unmarshal

// Client appends report rows to "<year> <base>" sheets: one summary row per
// report and one row per category.
type Client struct {
	svc            *gsheet.Service
	spreadsheetID  string
	summaryBase    string
	categoriesBase string
}

// Options configures a Client. Credentials are resolved from the environment.
type Options struct {
	SpreadsheetID   string
	SummarySheet    string
	CategoriesSheet string
}

// New creates a Sheets client. SpreadsheetID is required; the sheet bases
// default to "Reports" and "Report Categories".
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if opts.SummarySheet == "" {
		opts.SummarySheet = "Reports"
	}
	if opts.CategoriesSheet == "" {
		opts.CategoriesSheet = "Report Categories"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:            svc,
		spreadsheetID:  opts.SpreadsheetID,
		summaryBase:    opts.SummarySheet,
		categoriesBase: opts.CategoriesSheet,
	}, nil
}

// newSheetsService prefers service account credentials
// (GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS) and falls back to an OAuth client plus a
// token minted by cmd/oauth-init.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON([]byte(serviceAccountJSON)),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	case serviceAccountFile != "":
		credentialsJSON, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	cfg, err := oauthConfig()
	if err != nil {
		return nil, err
	}
	token, err := oauthToken()
	if err != nil {
		return nil, err
	}

	// Token refreshes go through the pooled client too.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	return gsheet.NewService(ctx, goption.WithHTTPClient(cfg.Client(ctx, token)))
}

func oauthConfig() (*oauth2.Config, error) {
	var data []byte
	if v := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_JSON")); v != "" {
		data = []byte(v)
	} else if path := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
		data = b
	} else {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}

	cfg, err := goauth.ConfigFromJSON(data, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	return cfg, nil
}

func oauthToken() (*oauth2.Token, error) {
	var data []byte
	if v := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_JSON")); v != "" {
		data = []byte(v)
	} else if path := strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_TOKEN_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read oauth token file: %w", err)
		}
		data = b
	} else {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	var token oauth2.Token
	if err := jsonUnmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}
	return &token, nil
}

// newHTTPClientWithPooling returns an HTTP client with connection pooling
// and timeouts suited to the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// WriteReport appends the report's summary and category rows. The returned
// reference is the summary row range.
func (c *Client) WriteReport(ctx context.Context, r core.Report) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	year := r.Period.Start.Year()
	summarySheet := yearPrefixedName(c.summaryBase, year)
	categoriesSheet := yearPrefixedName(c.categoriesBase, year)

	ref, err := c.append(ctx, summarySheet, [][]any{summaryRow(r)})
	if err != nil {
		return "", fmt.Errorf("append summary to %s: %w", summarySheet, err)
	}

	if rows := categoryRows(r); len(rows) > 0 {
		if _, err := c.append(ctx, categoriesSheet, rows); err != nil {
			return "", fmt.Errorf("append categories to %s: %w", categoriesSheet, err)
		}
	}
	return ref, nil
}

func (c *Client) append(ctx context.Context, sheet string, rows [][]any) (string, error) {
	rng := fmt.Sprintf("%s!A:F", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

// summaryRow is Period, Owner, Transactions, Total, Average.
func summaryRow(r core.Report) []any {
	return []any{
		r.Period.Label,
		r.OwnerRef,
		r.Summary.TotalTransactions,
		r.Summary.TotalAmount.StringFixed(2),
		r.Summary.AverageAmount.StringFixed(2),
	}
}

// categoryRows are Period, Owner, Category, Count, Total, Percentage.
func categoryRows(r core.Report) [][]any {
	rows := make([][]any, 0, len(r.Categories))
	for _, c := range r.Categories {
		rows = append(rows, []any{
			r.Period.Label,
			r.OwnerRef,
			c.CategoryName,
			c.Count,
			c.TotalAmount.StringFixed(2),
			c.Percentage.StringFixed(2),
		})
	}
	return rows
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
