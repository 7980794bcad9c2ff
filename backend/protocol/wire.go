package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated reports input that ended or broke mid-field. Decoders return it
// together with everything parsed before the break.
var ErrTruncated = errors.New("protocol: truncated or malformed message")

type field struct {
	Num   protowire.Number
	Type  protowire.Type
	Int   uint64
	Bytes []byte
}

func (f field) Int64() int64 {
	return int64(f.Int)
}

func (f field) Int32() int32 {
	return int32(f.Int)
}

func (f field) Bool() bool {
	return f.Int != 0
}

func (f field) Float32() float32 {
	if f.Type != protowire.Fixed32Type {
		return float32(f.Int)
	}
	return math.Float32frombits(uint32(f.Int))
}

func (f field) String() string {
	return string(f.Bytes)
}

func (f field) IsBytes() bool {
	return f.Type == protowire.BytesType
}

func (f field) IsVarint() bool {
	return f.Type == protowire.VarintType
}

// walkFields visits every top level field of b in order. Unknown wire types
// such as groups are skipped. It stops at the first malformed field and
// returns ErrTruncated with the byte offset.
func walkFields(b []byte, visit func(field)) error {
	offset := 0
	for offset < len(b) {
		num, typ, n := protowire.ConsumeTag(b[offset:])
		if n < 0 {
			return fmt.Errorf("%w: tag at offset %d: %v", ErrTruncated, offset, protowire.ParseError(n))
		}
		offset += n
		f := field{Num: num, Type: typ}
		rest := b[offset:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return fmt.Errorf("%w: field %d at offset %d: %v", ErrTruncated, num, offset, protowire.ParseError(m))
			}
			f.Int = v
			n = m
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(rest)
			if m < 0 {
				return fmt.Errorf("%w: field %d at offset %d: %v", ErrTruncated, num, offset, protowire.ParseError(m))
			}
			f.Int = uint64(v)
			n = m
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(rest)
			if m < 0 {
				return fmt.Errorf("%w: field %d at offset %d: %v", ErrTruncated, num, offset, protowire.ParseError(m))
			}
			f.Int = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return fmt.Errorf("%w: field %d at offset %d: %v", ErrTruncated, num, offset, protowire.ParseError(m))
			}
			f.Bytes = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, rest)
			if m < 0 {
				return fmt.Errorf("%w: field %d at offset %d: %v", ErrTruncated, num, offset, protowire.ParseError(m))
			}
			offset += m
			continue
		}
		offset += n
		visit(f)
	}
	return nil
}
