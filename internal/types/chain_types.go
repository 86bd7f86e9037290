// Package types contains shared type definitions used across multiple packages
package types

import "fmt"

// FeeModel selects which fee strategy applies to a chain
type FeeModel string

// Supported fee models
const (
	FeeModelEIP1559 FeeModel = "eip1559"
	FeeModelLegacy  FeeModel = "legacy"
)

// Valid reports whether the fee model is one the fetcher understands
func (f FeeModel) Valid() bool {
	return f == FeeModelEIP1559 || f == FeeModelLegacy
}

// ChainKind distinguishes production networks from test networks
type ChainKind string

// Supported chain kinds
const (
	KindMainnet ChainKind = "mainnet"
	KindTestnet ChainKind = "testnet"
)

// Valid reports whether the kind is known
func (k ChainKind) Valid() bool {
	return k == KindMainnet || k == KindTestnet
}

// ChainDescriptor describes one monitored EVM network. Immutable after load.
type ChainDescriptor struct {
	Key         string    `json:"key" yaml:"key"`
	ID          int64     `json:"id" yaml:"id"`
	DisplayName string    `json:"displayName" yaml:"name"`
	Symbol      string    `json:"symbol" yaml:"symbol"`
	Kind        ChainKind `json:"kind" yaml:"type"`
	FeeModel    FeeModel  `json:"feeModel" yaml:"feeModel"`
	Endpoint    string    `json:"endpoint" yaml:"endpoint"`
}

func (c ChainDescriptor) String() string {
	return fmt.Sprintf("%s(%d)", c.Key, c.ID)
}

// Placeholder is a non-EVM chain shown to clients without fee data
type Placeholder struct {
	Key         string    `json:"key" yaml:"key"`
	DisplayName string    `json:"displayName" yaml:"name"`
	Symbol      string    `json:"symbol" yaml:"symbol"`
	Kind        ChainKind `json:"kind" yaml:"type"`
}
