// Package ticket encodes issued tickets as scannable QR images.
package ticket

import (
	"encoding/base64"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 300

// Payload is the data a scanner recovers from a ticket QR.
type Payload struct {
	BuyerName     string    `json:"name"`
	TicketCount   int       `json:"tickets"`
	TransactionID string    `json:"transaction"`
	IssuedAt      time.Time `json:"issued"`
}

// Encode serializes the payload into a PNG QR code returned as a base64 data
// URL. Encoding is deterministic for a given payload. On failure it returns
// the empty string: a ticket without its visual proof is still a valid
// ticket, and approval must not abort over it.
func Encode(p Payload) string {
	data, err := json.Marshal(p)
	if err != nil {
		log.WithError(err).WithField("transaction_id", p.TransactionID).Error("Failed to serialize ticket payload")
		return ""
	}

	png, err := qrcode.Encode(string(data), qrcode.Medium, imageSize)
	if err != nil {
		log.WithError(err).WithField("transaction_id", p.TransactionID).Error("Failed to encode ticket QR")
		return ""
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
