package relay

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"sequencerFeed/internal/decoder"
	"sequencerFeed/internal/model"
)

// DecodeRecord decodes a feed item and builds its storage form. The L2
// payload is decoded once and shared by the field parser and the hash.
func DecodeRecord(chainID uint64, item model.BroadcastItem, connID model.ConnectionID, receivedAt time.Time) (model.TxRecord, error) {
	payload, err := decoder.Payload(item.Message.Message)
	if err != nil {
		return model.TxRecord{}, err
	}
	tx, err := decoder.ParsePayload(payload)
	if err != nil {
		return model.TxRecord{}, err
	}
	return BuildTxRecord(chainID, item, tx, payload, connID, receivedAt), nil
}

// BuildTxRecord converts a decoded feed message into its storage form.
// payload is the value returned by decoder.Payload for the same message.
func BuildTxRecord(chainID uint64, item model.BroadcastItem, tx model.DecodedTransaction, payload []byte, connID model.ConnectionID, receivedAt time.Time) model.TxRecord {
	header := item.Message.Message.Header
	rec := model.TxRecord{
		ChainID:          chainID,
		SequenceNumber:   item.SequenceNumber,
		L1BlockNumber:    header.BlockNumber,
		Timestamp:        header.Timestamp,
		ContractCreation: tx.IsCreation(),
		Value:            "0",
		Data:             hexutil.Encode(tx.Data),
		Selector:         decoder.Selector(tx.Data),
		Method:           decoder.MethodName(tx.Data),
		ConnectionID:     uint32(connID),
	}
	if tx.To != nil {
		rec.To = tx.To.Hex()
	}
	if tx.Value != nil {
		rec.Value = tx.Value.ToBig().String()
	}
	if full, err := decoder.TransactionFromPayload(payload); err == nil {
		rec.TxHash = full.Hash().Hex()
	}
	if !receivedAt.IsZero() {
		rec.ReceivedAt = receivedAt.UTC().Format(time.RFC3339Nano)
	}
	return rec
}
