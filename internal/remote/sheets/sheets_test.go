package sheets

import (
	"testing"
	"time"
)

func TestParseRow(t *testing.T) {
	r, err := parseRow([]any{"tx-1", "alice", "2026-01-15", "12,50", "groceries", "1750000000000", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.id != "tx-1" || r.ownerID != "alice" {
		t.Errorf("unexpected ids: %+v", r)
	}
	if r.date != time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected date: %v", r.date)
	}
	if r.amountCents != 1250 {
		t.Errorf("expected 1250 cents, got %d", r.amountCents)
	}
	if r.deleted {
		t.Errorf("row is not deleted")
	}
	if r.modifiedMs != 1750000000000 {
		t.Errorf("unexpected modified ms: %d", r.modifiedMs)
	}
}

func TestParseRowDeleted(t *testing.T) {
	r, err := parseRow([]any{"tx-2", "bob", "", "", "", "1750000000001", "DELETED"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.deleted {
		t.Errorf("expected deleted flag")
	}
	if !r.date.IsZero() {
		t.Errorf("expected zero date, got %v", r.date)
	}
}

func TestParseRowBad(t *testing.T) {
	if _, err := parseRow([]any{"", "alice"}); err == nil {
		t.Errorf("expected error for empty id")
	}
	if _, err := parseRow([]any{"tx-3", "alice", "2026-01-01", "1.00", "x", "not-a-number"}); err == nil {
		t.Errorf("expected error for bad last-modified")
	}
}

func TestParseRowUnparsableDateAndAmount(t *testing.T) {
	// Lossy fallbacks: bad date and amount degrade to zero values
	// instead of rejecting the row.
	r, err := parseRow([]any{"tx-4", "carol", "15/01/2026", "n/a", "desc", "1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.date.IsZero() || r.amountCents != 0 {
		t.Errorf("expected zero fallbacks, got %+v", r)
	}
}

func TestModifiedAfter(t *testing.T) {
	r := row{modifiedMs: 1000}
	if !r.modifiedAfter(time.Time{}) {
		t.Errorf("zero since must match everything")
	}
	if !r.modifiedAfter(time.UnixMilli(999)) {
		t.Errorf("expected after 999")
	}
	if r.modifiedAfter(time.UnixMilli(1000)) {
		t.Errorf("expected not after its own timestamp")
	}
}
