package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TransactionTypes are the Algorand transaction types the validator accepts.
var TransactionTypes = map[string]struct{}{
	"pay":    {},
	"keyreg": {},
	"acfg":   {},
	"axfer":  {},
	"afrz":   {},
	"appl":   {},
}

// TransactionPayload is the caller-supplied transaction shape. Callers send
// loosely-named JSON ("to"/"receiver", "from"/"sender"); decoding normalizes
// the aliases. Absent type/sender decode to empty strings, absent fee to a
// nil pointer, so the structural check can distinguish missing from zero.
type TransactionPayload struct {
	Type            string   `json:"type"`
	Sender          string   `json:"sender"`
	Receiver        string   `json:"receiver"`
	Amount          uint64   `json:"amount"`
	Fee             *uint64  `json:"fee,omitempty"`
	Note            string   `json:"note,omitempty"`
	ApplicationID   uint64   `json:"application_id,omitempty"`
	ApplicationArgs []string `json:"application_args,omitempty"`
}

type transactionPayloadJSON struct {
	Type            *string         `json:"type"`
	TxType          *string         `json:"tx_type"`
	Sender          *string         `json:"sender"`
	From            *string         `json:"from"`
	Receiver        *string         `json:"receiver"`
	To              *string         `json:"to"`
	Amount          json.RawMessage `json:"amount"`
	Fee             json.RawMessage `json:"fee"`
	Note            *string         `json:"note"`
	ApplicationID   json.RawMessage `json:"application_id"`
	ApplicationArgs []string        `json:"application_args"`
}

func (t *TransactionPayload) UnmarshalJSON(data []byte) error {
	var raw transactionPayloadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = TransactionPayload{}
	t.Type = firstString(raw.Type, raw.TxType)
	t.Sender = firstString(raw.Sender, raw.From)
	t.Receiver = firstString(raw.Receiver, raw.To)
	t.Note = firstString(raw.Note)
	t.ApplicationArgs = raw.ApplicationArgs

	t.Amount = decodeAmount(raw.Amount)
	t.ApplicationID = decodeAmount(raw.ApplicationID)
	if len(raw.Fee) > 0 && string(raw.Fee) != "null" {
		fee := decodeAmount(raw.Fee)
		t.Fee = &fee
	}
	return nil
}

// HasTransactionFields reports whether the payload carries enough to be worth
// validating at all.
func (t *TransactionPayload) HasTransactionFields() bool {
	return t.Type != "" || t.Sender != "" || t.Receiver != "" || t.Amount > 0 || t.Fee != nil
}

func firstString(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

// decodeAmount accepts JSON numbers (integer or float) and numeric strings.
// Negative and unparseable values clamp to zero; fractional parts truncate.
func decodeAmount(raw json.RawMessage) uint64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	s := strings.Trim(string(raw), `"`)
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return uint64(f)
	}
	return 0
}
