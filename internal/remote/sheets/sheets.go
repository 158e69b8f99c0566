// Package sheets adapts a Google Spreadsheet as the remote transaction
// source. Each shared group is a tab named after its group id; rows
// carry one transaction each:
//
//	A: transaction id
//	B: owner (member) id
//	C: business date, YYYY-MM-DD
//	D: amount, decimal (dot or comma separator)
//	E: description
//	F: last-modified, ms since epoch
//	G: "deleted" when the row is a soft delete
//
// The spreadsheet is read-only from this side: the cache mirrors it,
// never writes back.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"divvy/internal/core"
	"divvy/internal/log"
	"divvy/internal/remote"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

var _ remote.Source = (*Client)(nil)

// NewFromEnv creates a client from environment variables.
// Required: DIVVY_SPREADSHEET_ID.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("DIVVY_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing DIVVY_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// FetchSince implements remote.TransactionSource.
func (c *Client) FetchSince(ctx context.Context, groupID string, since time.Time) ([]core.Transaction, error) {
	rows, err := c.readGroupRows(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var out []core.Transaction
	for _, r := range rows {
		if r.deleted || !r.modifiedAfter(since) {
			continue
		}
		out = append(out, r.toTransaction(groupID))
	}
	slog.DebugContext(ctx, "Fetched remote transactions",
		log.FieldGroupID, groupID,
		log.FieldCount, len(out),
		log.FieldSinceTS, since.UnixMilli())
	return out, nil
}

// RemovedSince implements remote.RemovalSource.
func (c *Client) RemovedSince(ctx context.Context, groupID string, since time.Time) ([]string, error) {
	rows, err := c.readGroupRows(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, r := range rows {
		if r.deleted && r.modifiedAfter(since) {
			out = append(out, r.id)
		}
	}
	return out, nil
}

type row struct {
	id          string
	ownerID     string
	date        time.Time
	amountCents int64
	description string
	modifiedMs  int64
	deleted     bool
	raw         []any
}

func (r row) modifiedAfter(since time.Time) bool {
	if since.IsZero() {
		return true
	}
	return r.modifiedMs > since.UnixMilli()
}

func (r row) toTransaction(groupID string) core.Transaction {
	tx := core.Transaction{
		ID:          r.id,
		GroupID:     groupID,
		OwnerID:     r.ownerID,
		Description: r.description,
		Amount:      core.Money{Cents: r.amountCents},
		Date:        r.date,
	}
	// Preserve the row as received; the cache stores it verbatim.
	if raw, err := json.Marshal(map[string]any{
		"id":          r.id,
		"groupId":     groupID,
		"ownerId":     r.ownerID,
		"description": r.description,
		"amountCents": r.amountCents,
		"dateTs":      tx.DateMillis(),
		"row":         r.raw,
	}); err == nil {
		tx.Raw = raw
	}
	return tx
}

func (c *Client) readGroupRows(ctx context.Context, groupID string) ([]row, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A2:G", groupID)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	rows := make([]row, 0, len(resp.Values))
	for i, cells := range resp.Values {
		r, err := parseRow(cells)
		if err != nil {
			slog.WarnContext(ctx, "Skipping malformed sheet row",
				log.FieldGroupID, groupID,
				"row", i+2,
				log.FieldError, err)
			continue
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func parseRow(cells []any) (row, error) {
	var r row
	r.raw = cells

	r.id = strings.TrimSpace(cell(cells, 0))
	if r.id == "" {
		return r, errors.New("empty transaction id")
	}
	r.ownerID = strings.TrimSpace(cell(cells, 1))

	// An unparsable date is not fatal: the cache coerces it to 0.
	if d := strings.TrimSpace(cell(cells, 2)); d != "" {
		if parsed, err := time.Parse("2006-01-02", d); err == nil {
			r.date = parsed.UTC()
		}
	}

	if a := strings.TrimSpace(cell(cells, 3)); a != "" {
		if cents, err := core.ParseDecimalToCents(a); err == nil {
			r.amountCents = cents
		}
	}

	r.description = strings.TrimSpace(cell(cells, 4))

	if m := strings.TrimSpace(cell(cells, 5)); m != "" {
		ms, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return r, fmt.Errorf("bad last-modified %q", m)
		}
		r.modifiedMs = ms
	}

	r.deleted = strings.EqualFold(strings.TrimSpace(cell(cells, 6)), "deleted")
	return r, nil
}

func cell(cells []any, i int) string {
	if i >= len(cells) {
		return ""
	}
	return fmt.Sprint(cells[i])
}
