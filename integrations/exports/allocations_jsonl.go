package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"time"

	"questreward/native/questreward"
)

type allocationLine struct {
	Campaign    string `json:"campaign"`
	Asset       string `json:"asset"`
	Recipient   string `json:"recipient"`
	Pending     string `json:"pending"`
	Claimed     string `json:"claimed"`
	GeneratedAt string `json:"generated_at"`
}

// AllocationsJSONL builds a JSON Lines export of a campaign's allocations and
// returns the serialised payload alongside a checksum.
func AllocationsJSONL(campaign *questreward.Campaign, allocations []questreward.RecipientAllocation, generatedAt time.Time) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	generated := stamp(generatedAt)
	for _, entry := range allocations {
		line := allocationLine{
			Campaign:    campaign.Key,
			Asset:       campaign.Asset.Hex(),
			Recipient:   entry.Recipient.Hex(),
			Pending:     amountString(entry.Pending),
			Claimed:     amountString(entry.Claimed),
			GeneratedAt: generated,
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
