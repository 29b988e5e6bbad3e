package decoder

import "testing"

func TestMethodName(t *testing.T) {
	transfer := []byte{0xa9, 0x05, 0x9c, 0xbb, 0x00}
	if got := MethodName(transfer); got != "transfer" {
		t.Fatalf("method mismatch: %q", got)
	}
	if got := Selector(transfer); got != "0xa9059cbb" {
		t.Fatalf("selector mismatch: %q", got)
	}

	approve := []byte{0x09, 0x5e, 0xa7, 0xb3}
	if got := MethodName(approve); got != "approve" {
		t.Fatalf("method mismatch: %q", got)
	}

	if got := MethodName([]byte{0xde, 0xad, 0xbe, 0xef}); got != "" {
		t.Fatalf("unexpected method: %q", got)
	}
	if got := Selector([]byte{0x01}); got != "" {
		t.Fatalf("unexpected selector: %q", got)
	}
}
