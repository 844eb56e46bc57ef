package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"time"

	"questreward/native/questreward"
)

// AllocationsCSV builds a CSV export of a campaign's allocations and returns
// the serialised data alongside a SHA-256 checksum of the payload.
func AllocationsCSV(campaign *questreward.Campaign, allocations []questreward.RecipientAllocation, generatedAt time.Time) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"campaign", "asset", "recipient", "pending", "claimed", "generated_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	generated := stamp(generatedAt)
	for _, entry := range allocations {
		record := []string{
			campaign.Key,
			campaign.Asset.Hex(),
			entry.Recipient.Hex(),
			amountString(entry.Pending),
			amountString(entry.Claimed),
			generated,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
