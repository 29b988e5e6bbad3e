package redis

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"sequencerFeed/internal/model"
)

func TestEncodeRecordUsesJSONNames(t *testing.T) {
	rec := model.TxRecord{
		ChainID:          42161,
		SequenceNumber:   7,
		To:               "0x00000000000000000000000000000000000000aa",
		ContractCreation: false,
		Value:            "1000",
		Data:             "0xa9059cbb",
		Method:           "transfer",
	}

	msg, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var fields map[string]interface{}
	if err := msgpack.Unmarshal(msg, &fields); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	for _, key := range []string{"chain_id", "sequence_number", "to", "value", "data", "method"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in %v", key, fields)
		}
	}
	if _, ok := fields["tx_hash"]; ok {
		t.Fatalf("expected empty tx_hash to be omitted")
	}

	got, err := DecodeRecord(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != rec {
		t.Fatalf("unexpected record: %+v", got)
	}
}
