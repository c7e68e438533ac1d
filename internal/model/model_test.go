package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalPayloadRejectsUnknownKind(t *testing.T) {
	var p ProposalPayload
	err := json.Unmarshal([]byte(`{"kind":"bid","price":"1"}`), &p)
	assert.Error(t, err)
}

func TestProposalPayloadValidatesVariant(t *testing.T) {
	var p ProposalPayload
	err := json.Unmarshal([]byte(`{"kind":"counter","price":"0"}`), &p)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"kind":"proposal","service":"","budget":"5"}`), &p)
	assert.Error(t, err)
}

func TestProposalPayloadCarriesKind(t *testing.T) {
	raw, err := json.Marshal(ProposalPayload{Counter: &Counter{Price: decimal.RequireFromString("45"), Terms: "net 0"}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"counter"`)

	var decoded ProposalPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, PayloadCounter, decoded.Kind())
	assert.Nil(t, decoded.Proposal)
	assert.Equal(t, "net 0", decoded.Counter.Terms)
}

func TestPeriodBounds(t *testing.T) {
	start, next := PeriodBounds(time.Date(2026, time.December, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestWalletSpendable(t *testing.T) {
	w := Wallet{Balance: decimal.NewFromInt(100), Reserved: decimal.NewFromInt(45)}
	assert.True(t, w.Spendable().Equal(decimal.NewFromInt(55)))
}
