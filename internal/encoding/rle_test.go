package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint32, 0, 200)
	in = append(in, 1, 1, 1, 0xFF00FF00, 0xFF00FF00, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 0)
	}
	in = append(in, 9, 10, 10, 0xFFFFFFFF)

	out, err := DecodeRLEString(EncodeRLEString(in), 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_CompactsEmptyRuns(t *testing.T) {
	in := make([]uint32, 64*100)
	raw := AppendRLE(nil, in)
	if len(raw) > 4 {
		t.Fatalf("expected a single short pair, got %d bytes", len(raw))
	}
}

func TestRLE_Limit(t *testing.T) {
	raw := AppendRLE(nil, make([]uint32, 100))
	if _, err := DecodeRLE(raw, 99); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := DecodeRLE(raw, 100); err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
}

func TestRLE_Truncated(t *testing.T) {
	raw := AppendRLE(nil, []uint32{300, 300})
	if _, err := DecodeRLE(raw[:len(raw)-1], 0); err == nil {
		t.Fatalf("expected error on truncated input")
	}
}
