package extract

import (
	"encoding/binary"
	"fmt"
	"math"
)

// InstanceStride is the packed size of one instance: three float32 position
// components, a float32 scale and a uint32 brick index, little-endian.
const InstanceStride = 20

func Encode(in []Instance) []byte {
	return AppendEncoded(make([]byte, 0, len(in)*InstanceStride), in)
}

func AppendEncoded(dst []byte, in []Instance) []byte {
	for _, v := range in {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Position[0]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Position[1]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Position[2]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.Scale))
		dst = binary.LittleEndian.AppendUint32(dst, v.Brick)
	}
	return dst
}

func Decode(buf []byte) ([]Instance, error) {
	if len(buf)%InstanceStride != 0 {
		return nil, fmt.Errorf("instance buffer length %d is not a multiple of %d", len(buf), InstanceStride)
	}
	out := make([]Instance, 0, len(buf)/InstanceStride)
	for off := 0; off < len(buf); off += InstanceStride {
		rec := buf[off : off+InstanceStride]
		var v Instance
		v.Position[0] = math.Float32frombits(binary.LittleEndian.Uint32(rec[0:]))
		v.Position[1] = math.Float32frombits(binary.LittleEndian.Uint32(rec[4:]))
		v.Position[2] = math.Float32frombits(binary.LittleEndian.Uint32(rec[8:]))
		v.Scale = math.Float32frombits(binary.LittleEndian.Uint32(rec[12:]))
		v.Brick = binary.LittleEndian.Uint32(rec[16:])
		out = append(out, v)
	}
	return out, nil
}
