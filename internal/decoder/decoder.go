package decoder

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"sequencerFeed/internal/model"
)

// MaxL2MessageSize caps the decoded size of an L2 payload.
const MaxL2MessageSize = 256 * 1024

// l2MessageKindSignedTx tags an L2 message carrying one signed transaction.
const l2MessageKindSignedTx = 4

// Number of leading fields each envelope adds in front of the legacy layout.
const (
	legacyOffset     = 0
	accessListOffset = 1
	dynamicFeeOffset = 2
)

// Field positions in the legacy layout.
const (
	toField    = 3
	valueField = 4
	dataField  = 5
)

var (
	ErrOversized         = errors.New("l2 message exceeds size limit")
	ErrUnsupportedKind   = errors.New("unsupported l1 message kind")
	ErrInvalidBase64     = errors.New("invalid base64 payload")
	ErrUnsupportedBatch  = errors.New("unsupported l2 message kind")
	ErrUnsupportedTxType = errors.New("unsupported transaction type")
	ErrMalformedRLP      = errors.New("malformed rlp")
	ErrMalformedField    = errors.New("malformed transaction field")
)

// Decode extracts destination, value and calldata from a sequencer message.
// It reports false for any message that is unsupported or malformed.
func Decode(msg model.L1Header) (model.DecodedTransaction, bool) {
	tx, err := Parse(msg)
	if err != nil {
		return model.DecodedTransaction{}, false
	}
	return tx, true
}

// Parse is Decode with the rejection reason.
func Parse(msg model.L1Header) (model.DecodedTransaction, error) {
	data, err := Payload(msg)
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	return ParsePayload(data)
}

// Payload validates msg and returns its decoded L2 payload, tag byte included.
func Payload(msg model.L1Header) ([]byte, error) {
	return l2Payload(msg)
}

// ParsePayload extracts destination, value and calldata from a payload
// returned by Payload.
func ParsePayload(data []byte) (model.DecodedTransaction, error) {
	if len(data) < 2 || data[0] != l2MessageKindSignedTx {
		return model.DecodedTransaction{}, fmt.Errorf("%w: payload is not a signed transaction", ErrUnsupportedBatch)
	}

	leading := data[1]
	switch {
	case leading > 0x7f:
		return parseTxFields(data[1:], legacyOffset)
	case leading == types.AccessListTxType:
		return parseTxFields(data[2:], accessListOffset)
	case leading == types.DynamicFeeTxType:
		return parseTxFields(data[2:], dynamicFeeOffset)
	default:
		return model.DecodedTransaction{}, fmt.Errorf("%w: 0x%02x", ErrUnsupportedTxType, leading)
	}
}

// DecodeTransaction fully decodes the transaction carried by a sequencer message.
func DecodeTransaction(msg model.L1Header) (*types.Transaction, error) {
	data, err := Payload(msg)
	if err != nil {
		return nil, err
	}
	return TransactionFromPayload(data)
}

// TransactionFromPayload fully decodes a payload returned by Payload.
func TransactionFromPayload(data []byte) (*types.Transaction, error) {
	if len(data) < 2 || data[0] != l2MessageKindSignedTx {
		return nil, fmt.Errorf("%w: payload is not a signed transaction", ErrUnsupportedBatch)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data[1:]); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, nil
}

// Reason maps a Parse error to a short label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOversized):
		return "oversized"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported_kind"
	case errors.Is(err, ErrInvalidBase64):
		return "invalid_base64"
	case errors.Is(err, ErrUnsupportedBatch):
		return "unsupported_batch"
	case errors.Is(err, ErrUnsupportedTxType):
		return "unsupported_tx_type"
	case errors.Is(err, ErrMalformedRLP), errors.Is(err, ErrMalformedField):
		return "malformed_rlp"
	default:
		return "unknown"
	}
}

func l2Payload(msg model.L1Header) ([]byte, error) {
	if len(msg.L2Msg) > base64.StdEncoding.EncodedLen(MaxL2MessageSize) {
		return nil, ErrOversized
	}
	if msg.Header.Kind != model.L1MessageTypeL2Message {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, msg.Header.Kind)
	}

	data, err := base64.StdEncoding.DecodeString(msg.L2Msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(data) > MaxL2MessageSize {
		return nil, ErrOversized
	}
	if len(data) == 0 || data[0] != l2MessageKindSignedTx {
		return nil, ErrUnsupportedBatch
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: empty transaction", ErrMalformedRLP)
	}
	return data, nil
}

type rlpValue struct {
	kind    rlp.Kind
	content []byte
}

func parseTxFields(payload []byte, offset int) (model.DecodedTransaction, error) {
	list, _, err := rlp.SplitList(payload)
	if err != nil {
		return model.DecodedTransaction{}, fmt.Errorf("%w: %v", ErrMalformedRLP, err)
	}

	fields, err := splitFields(list, offset+dataField+1)
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	to, err := decodeDestination(fields[offset+toField])
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	value, err := decodeValue(fields[offset+valueField])
	if err != nil {
		return model.DecodedTransaction{}, err
	}
	data, err := decodeData(fields[offset+dataField])
	if err != nil {
		return model.DecodedTransaction{}, err
	}

	return model.DecodedTransaction{To: to, Value: value, Data: data}, nil
}

// splitFields returns the first n elements of an rlp list body.
func splitFields(list []byte, n int) ([]rlpValue, error) {
	fields := make([]rlpValue, 0, n)
	rest := list
	for len(fields) < n {
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: list has %d elements, need %d", ErrMalformedRLP, len(fields), n)
		}
		kind, content, tail, err := rlp.Split(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedRLP, len(fields), err)
		}
		fields = append(fields, rlpValue{kind: kind, content: content})
		rest = tail
	}
	return fields, nil
}

func decodeDestination(v rlpValue) (*common.Address, error) {
	if v.kind == rlp.List {
		return nil, fmt.Errorf("%w: destination is a list", ErrMalformedField)
	}
	switch len(v.content) {
	case 0:
		return nil, nil
	case common.AddressLength:
		addr := common.BytesToAddress(v.content)
		return &addr, nil
	default:
		return nil, fmt.Errorf("%w: destination has %d bytes", ErrMalformedField, len(v.content))
	}
}

func decodeValue(v rlpValue) (*uint256.Int, error) {
	if v.kind == rlp.List {
		return nil, fmt.Errorf("%w: value is a list", ErrMalformedField)
	}
	if len(v.content) > 32 {
		return nil, fmt.Errorf("%w: value has %d bytes", ErrMalformedField, len(v.content))
	}
	if len(v.content) > 0 && v.content[0] == 0 {
		return nil, fmt.Errorf("%w: value has leading zero bytes", ErrMalformedField)
	}
	return new(uint256.Int).SetBytes(v.content), nil
}

func decodeData(v rlpValue) ([]byte, error) {
	if v.kind == rlp.List {
		return nil, fmt.Errorf("%w: data is a list", ErrMalformedField)
	}
	return common.CopyBytes(v.content), nil
}
