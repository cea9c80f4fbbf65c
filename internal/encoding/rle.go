// Package encoding holds the run-length codec used for packed voxel colors.
package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// AppendRLE appends (value, run) uvarint pairs for vals to dst.
func AppendRLE(dst []byte, vals []uint32) []byte {
	for i := 0; i < len(vals); {
		v := vals[i]
		run := 1
		for j := i + 1; j < len(vals) && vals[j] == v; j++ {
			run++
		}
		dst = binary.AppendUvarint(dst, uint64(v))
		dst = binary.AppendUvarint(dst, uint64(run))
		i += run
	}
	return dst
}

// DecodeRLE expands raw. limit caps the decoded length to guard against
// hostile input; 0 means no cap.
func DecodeRLE(raw []byte, limit int) ([]uint32, error) {
	var out []uint32
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFFFFFF {
			return nil, fmt.Errorf("value too large: %d", v)
		}
		if run == 0 {
			return nil, fmt.Errorf("zero-length run at %d", i)
		}
		if limit > 0 && uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("decoded length exceeds %d", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint32(v))
		}
	}
	return out, nil
}

// EncodeRLEString is AppendRLE rendered as base64, for JSON documents.
func EncodeRLEString(vals []uint32) string {
	return base64.StdEncoding.EncodeToString(AppendRLE(nil, vals))
}

func DecodeRLEString(b64 string, limit int) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return DecodeRLE(raw, limit)
}
