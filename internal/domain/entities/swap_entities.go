package entities

import (
	"encoding/json"
	"math/big"
)

// SwapLayer identifies a step of the routing cascade
type SwapLayer string

const (
	SwapLayerPermit     SwapLayer = "permit"
	SwapLayerAggregator SwapLayer = "aggregator"
	SwapLayerAMM        SwapLayer = "amm"
)

// SwapSide says which amount of a route request is fixed
type SwapSide string

const (
	SwapSideSell SwapSide = "sell"
	SwapSideBuy  SwapSide = "buy"
)

// ApprovalRequirement is an ERC-20 approve that must land before the swap
type ApprovalRequirement struct {
	Token   string   `json:"token"`
	Spender string   `json:"spender"`
	Amount  *big.Int `json:"amount"`
}

// ExecutableSwap is a ready-to-send swap transaction
type ExecutableSwap struct {
	To              string               `json:"to"`
	Data            []byte               `json:"data"`
	Value           *big.Int             `json:"value"`
	Gas             uint64               `json:"gas"`
	ExpectedOutput  *big.Int             `json:"expected_output"`
	MinOutput       *big.Int             `json:"min_output"`
	MaxInput        *big.Int             `json:"max_input,omitempty"`
	Layer           SwapLayer            `json:"layer"`
	Provider        string               `json:"provider"`
	Approval        *ApprovalRequirement `json:"approval,omitempty"`
	PermitTypedData json.RawMessage      `json:"permit_typed_data,omitempty"`
}
