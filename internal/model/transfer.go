package model

import "github.com/shopspring/decimal"

// TransferKind selects how the host moves funds for an instruction.
type TransferKind string

const (
	// TransferLocal is a direct balance transfer on the host chain.
	TransferLocal TransferKind = "local"
	// TransferBridge hands the funds to a bridge contract for an outbound transfer.
	TransferBridge TransferKind = "bridge"
)

// TransferPurpose records why an instruction was emitted.
type TransferPurpose string

const (
	PurposeWithdraw TransferPurpose = "withdraw"
	PurposeAcquire  TransferPurpose = "acquire"
	PurposeDispose  TransferPurpose = "dispose"
	PurposeReward   TransferPurpose = "reward"
)

// Transfer is an outbound instruction decided by the engine and executed by
// the host's transfer mechanism. The engine itself never moves funds.
type Transfer struct {
	Kind      TransferKind    `json:"kind"`
	Purpose   TransferPurpose `json:"purpose"`
	Recipient string          `json:"recipient"`
	Bridge    string          `json:"bridge,omitempty"` // bridge contract for TransferBridge
	Denom     string          `json:"denom"`
	Chain     Chain           `json:"chain"`
	Amount    decimal.Decimal `json:"amount"`
}
