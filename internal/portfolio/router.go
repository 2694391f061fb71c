package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
)

// DefaultEthBridge is the bridge contract used when none is configured.
const DefaultEthBridge = "eth_bridge"

// Router turns a (token, amount) decision into a chain-specific transfer
// instruction. Cosmos-family tokens move as local balance transfers,
// Ethereum tokens leave through the bridge; other chains are not routable.
type Router struct {
	EthBridge string
}

// NewRouter returns a router bridging Ethereum transfers through ethBridge.
func NewRouter(ethBridge string) Router {
	if ethBridge == "" {
		ethBridge = DefaultEthBridge
	}
	return Router{EthBridge: ethBridge}
}

// Route builds the instruction moving amount of symbol on chain to recipient.
func (r Router) Route(chain model.Chain, symbol, recipient string, amount decimal.Decimal, purpose model.TransferPurpose) (model.Transfer, error) {
	t := model.Transfer{
		Purpose:   purpose,
		Recipient: recipient,
		Denom:     symbol,
		Chain:     chain,
		Amount:    amount,
	}
	switch chain {
	case model.ChainCosmos:
		t.Kind = model.TransferLocal
	case model.ChainEthereum:
		t.Kind = model.TransferBridge
		t.Bridge = r.bridge()
	default:
		return model.Transfer{}, fmt.Errorf("%w: %s (%s)", model.ErrUnsupportedChain, chain, symbol)
	}
	return t, nil
}

func (r Router) bridge() string {
	if r.EthBridge == "" {
		return DefaultEthBridge
	}
	return r.EthBridge
}
