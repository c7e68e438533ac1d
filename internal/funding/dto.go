package funding

import (
	"github.com/shopspring/decimal"

	"github.com/agentpay/agentpay/internal/wallet"
)

// CardInRequest funds a wallet from a card.
type CardInRequest struct {
	CardNumber string          `json:"card_number"`
	Expiry     string          `json:"expiry"`
	CVV        string          `json:"cvv"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

// CardOutRequest pushes funds from a wallet to a card.
type CardOutRequest struct {
	CardNumber string          `json:"card_number"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

// FundingResponse is returned by the card endpoints and settlement callbacks.
type FundingResponse struct {
	Transaction       wallet.TransactionView `json:"transaction"`
	WalletID          string                 `json:"wallet_id"`
	WalletBalance     decimal.Decimal        `json:"wallet_balance"`
	WalletReserved    decimal.Decimal        `json:"wallet_reserved"`
	AcquirerReference string                 `json:"acquirer_reference,omitempty"`
	Replayed          bool                   `json:"replayed,omitempty"`
}
