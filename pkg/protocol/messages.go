// pkg/protocol/messages.go
package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrWire = errors.New("protocol: malformed message")

// PushRequest carries one protected packet record for an object.
//
//	1: object_id string
//	2: packet    bytes
type PushRequest struct {
	ObjectID string
	Packet   []byte
}

// PushResponse reports the decoder state after the push.
//
//	1: solved   uint32
//	2: total    uint32
//	3: complete bool
//	4: rejected bool
//	5: reason   string
type PushResponse struct {
	Solved   uint32
	Total    uint32
	Complete bool
	Rejected bool
	Reason   string
}

// FetchRequest asks for the reassembled object.
//
//	1: object_id string
type FetchRequest struct {
	ObjectID string
}

// FetchResponse carries the object once it is complete.
//
//	1: complete  bool
//	2: file_name string
//	3: data      bytes
//	4: solved    uint32
//	5: total     uint32
type FetchResponse struct {
	Complete bool
	FileName string
	Data     []byte
	Solved   uint32
	Total    uint32
}

/* ------------------------------------------------------------------------ */
/* field helpers                                                            */
/* ------------------------------------------------------------------------ */

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

// skipField is returned by field decoders for unknown fields or wire
// types; protowire's own error codes are small negative numbers.
const skipField = math.MinInt32

// walk calls fn for every field of a message. fn returns the number of
// bytes it consumed, or skipField to skip the field.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrWire, protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == skipField {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrWire, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return skipField
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return skipField
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeUint32(typ protowire.Type, b []byte, dst *uint32) int {
	if typ != protowire.VarintType {
		return skipField
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = uint32(v)
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return skipField
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

/* ------------------------------------------------------------------------ */
/* messages                                                                 */
/* ------------------------------------------------------------------------ */

func (m *PushRequest) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.ObjectID)
	return appendBytes(b, 2, m.Packet), nil
}

func (m *PushRequest) Unmarshal(b []byte) error {
	*m = PushRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &m.ObjectID)
		case 2:
			return consumeBytes(typ, b, &m.Packet)
		}
		return skipField
	})
}

func (m *PushResponse) Marshal() ([]byte, error) {
	b := appendVarint(nil, 1, uint64(m.Solved))
	b = appendVarint(b, 2, uint64(m.Total))
	b = appendBool(b, 3, m.Complete)
	b = appendBool(b, 4, m.Rejected)
	return appendString(b, 5, m.Reason), nil
}

func (m *PushResponse) Unmarshal(b []byte) error {
	*m = PushResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.Solved)
		case 2:
			return consumeUint32(typ, b, &m.Total)
		case 3:
			return consumeBool(typ, b, &m.Complete)
		case 4:
			return consumeBool(typ, b, &m.Rejected)
		case 5:
			return consumeString(typ, b, &m.Reason)
		}
		return skipField
	})
}

func (m *FetchRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.ObjectID), nil
}

func (m *FetchRequest) Unmarshal(b []byte) error {
	*m = FetchRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeString(typ, b, &m.ObjectID)
		}
		return skipField
	})
}

func (m *FetchResponse) Marshal() ([]byte, error) {
	b := appendBool(nil, 1, m.Complete)
	b = appendString(b, 2, m.FileName)
	b = appendBytes(b, 3, m.Data)
	b = appendVarint(b, 4, uint64(m.Solved))
	return appendVarint(b, 5, uint64(m.Total)), nil
}

func (m *FetchResponse) Unmarshal(b []byte) error {
	*m = FetchResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBool(typ, b, &m.Complete)
		case 2:
			return consumeString(typ, b, &m.FileName)
		case 3:
			return consumeBytes(typ, b, &m.Data)
		case 4:
			return consumeUint32(typ, b, &m.Solved)
		case 5:
			return consumeUint32(typ, b, &m.Total)
		}
		return skipField
	})
}
