package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DecodedTransaction holds the fields of an L2 transaction the relay cares about.
type DecodedTransaction struct {
	// To is nil for contract creation.
	To    *common.Address
	Value *uint256.Int
	Data  []byte
}

// IsCreation reports whether the transaction deploys a contract.
func (tx DecodedTransaction) IsCreation() bool {
	return tx.To == nil
}
