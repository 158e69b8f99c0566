package txcache

import (
	"encoding/json"
	"time"

	"divvy/internal/core"
)

// wireTransaction is the JSON shape stored in the payload column when a
// transaction arrives without its original remote payload. It matches
// the fields the remote adapters produce so both sources decode the
// same way.
type wireTransaction struct {
	ID          string `json:"id"`
	GroupID     string `json:"groupId"`
	OwnerID     string `json:"ownerId"`
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amountCents,omitempty"`
	DateTS      int64  `json:"dateTs,omitempty"`
}

// encodePayload returns the payload blob for a transaction: the remote
// payload verbatim when present, otherwise a canonical JSON encoding.
func encodePayload(t core.Transaction) ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	return json.Marshal(wireTransaction{
		ID:          t.ID,
		GroupID:     t.GroupID,
		OwnerID:     t.OwnerID,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
		DateTS:      t.DateMillis(),
	})
}

// decodeRow rebuilds a transaction from the indexed columns plus the
// stored payload. Columns win over payload fields: in particular the
// stored owner overrides whatever the payload claims, since ownership
// is resolved at write time.
func decodeRow(txID, groupID, ownerID string, dateTS int64, payload []byte) core.Transaction {
	out := core.Transaction{
		ID:      txID,
		GroupID: groupID,
		OwnerID: ownerID,
		Raw:     payload,
	}
	if dateTS > 0 {
		out.Date = time.UnixMilli(dateTS).UTC()
	}

	var w wireTransaction
	if err := json.Unmarshal(payload, &w); err == nil {
		out.Description = w.Description
		out.Amount = core.Money{Cents: w.AmountCents}
	}
	return out
}
