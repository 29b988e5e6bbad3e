package model

// TxRecord is the normalized representation of a relayed transaction for storage.
type TxRecord struct {
	ChainID          uint64 `json:"chain_id"`
	SequenceNumber   int64  `json:"sequence_number"`
	L1BlockNumber    uint64 `json:"l1_block_number"`
	Timestamp        uint64 `json:"timestamp"`
	TxHash           string `json:"tx_hash,omitempty"`
	To               string `json:"to,omitempty"`
	ContractCreation bool   `json:"contract_creation"`
	Value            string `json:"value"`
	Data             string `json:"data"`
	Selector         string `json:"selector,omitempty"`
	Method           string `json:"method,omitempty"`
	ConnectionID     uint32 `json:"connection_id"`
	ReceivedAt       string `json:"received_at,omitempty"`
}
