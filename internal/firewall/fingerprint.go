package firewall

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/algorand-firewall-service/internal/model"
)

// Fingerprint structs declare their fields in alphabetical order, so the
// marshaled form is canonical regardless of how the client ordered its JSON.

type detectorPrint struct {
	Amount   uint64 `json:"amount"`
	Note     string `json:"note"`
	Receiver string `json:"receiver"`
	Type     string `json:"type"`
}

type validatorPrint struct {
	Amount          uint64   `json:"amount"`
	ApplicationArgs []string `json:"application_args"`
	ApplicationID   uint64   `json:"application_id"`
	Fee             uint64   `json:"fee"`
	Note            string   `json:"note"`
	Receiver        string   `json:"receiver"`
	Sender          string   `json:"sender"`
	Type            string   `json:"type"`
}

// detectorFingerprint identifies a transaction by its externally visible
// shape: who receives how much, with what note and type.
func detectorFingerprint(p *model.TransactionPayload) string {
	return hashCanonical(detectorPrint{
		Amount:   p.Amount,
		Note:     p.Note,
		Receiver: p.Receiver,
		Type:     p.Type,
	})
}

// validatorFingerprint widens the detector print with the sender-side fields
// so the replay band also catches self-similar application calls.
func validatorFingerprint(p *model.TransactionPayload) string {
	fp := validatorPrint{
		Amount:          p.Amount,
		ApplicationArgs: p.ApplicationArgs,
		ApplicationID:   p.ApplicationID,
		Note:            p.Note,
		Receiver:        p.Receiver,
		Sender:          p.Sender,
		Type:            p.Type,
	}
	if p.Fee != nil {
		fp.Fee = *p.Fee
	}
	return hashCanonical(fp)
}

func hashCanonical(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
