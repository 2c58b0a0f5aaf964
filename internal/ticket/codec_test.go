package ticket_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpass/ticketpay/internal/ticket"
)

func samplePayload() ticket.Payload {
	return ticket.Payload{
		BuyerName:     "Maria Silva",
		TicketCount:   3,
		TransactionID: "TKT-abc-123",
		IssuedAt:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEncodeProducesPNGDataURL(t *testing.T) {
	img := ticket.Encode(samplePayload())
	require.NotEmpty(t, img)
	require.True(t, strings.HasPrefix(img, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))
}

func TestEncodeDeterministic(t *testing.T) {
	first := ticket.Encode(samplePayload())
	second := ticket.Encode(samplePayload())
	assert.Equal(t, first, second)
}

func TestEncodeDistinctPayloads(t *testing.T) {
	other := samplePayload()
	other.TransactionID = "TKT-def-456"
	assert.NotEqual(t, ticket.Encode(samplePayload()), ticket.Encode(other))
}

func TestEncodeOversizedPayloadReturnsEmpty(t *testing.T) {
	p := samplePayload()
	// QR capacity at medium recovery tops out well below 4KB of text.
	p.BuyerName = strings.Repeat("x", 4096)
	assert.Empty(t, ticket.Encode(p))
}
