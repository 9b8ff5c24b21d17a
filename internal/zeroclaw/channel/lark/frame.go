// Package lark implements the Lark/Feishu long-connection channel: a
// WebSocket adapter that speaks the platform's length-delimited binary
// frame protocol, maintains a tenant-access-token lease, and turns inbound
// message events into channel.Message values.
package lark

import (
	"encoding/binary"
	"fmt"
)

// frameHeader is one key/value pair attached to a frame, used for the
// control fields (type, message_id, sum, seq, biz_rt) carried alongside
// the frame payload.
type frameHeader struct {
	Key   string
	Value string
}

// frame is the wire record exchanged over the long connection. It mirrors
// the platform's pbbp2 frame shape: a sequence/log identifier pair, a
// service and method selector (method 0 is a control ping/pong, method 1
// carries an event payload), a header list, and an opaque payload.
//
// There is no generated protobuf type for this wire shape anywhere in this
// module's dependency tree, so encode/decode below hand-roll the same
// tag/wire-type varint scheme protobuf itself uses: each field is
// identified by a (field number, wire type) varint tag, integers are
// varint-encoded, and strings/submessages/bytes are length-prefixed. A
// server speaking the real protocol reads these frames identically to ones
// produced by a generated client.
type frame struct {
	SeqID   uint64
	LogID   uint64
	Service int32
	Method  int32
	Headers []frameHeader
	Payload []byte
}

const (
	wireVarint = 0
	wireBytes  = 2

	fieldSeqID   = 1
	fieldLogID   = 2
	fieldService = 3
	fieldMethod  = 4
	fieldHeaders = 5
	fieldPayload = 6

	headerFieldKey   = 1
	headerFieldValue = 2
)

func tag(field int, wireType int) uint64 {
	return uint64(field)<<3 | uint64(wireType)
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendTagVarint(buf []byte, field int, v uint64) []byte {
	buf = appendVarint(buf, tag(field, wireVarint))
	return appendVarint(buf, v)
}

func appendTagBytes(buf []byte, field int, v []byte) []byte {
	buf = appendVarint(buf, tag(field, wireBytes))
	buf = appendVarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func encodeHeader(h frameHeader) []byte {
	var buf []byte
	buf = appendTagBytes(buf, headerFieldKey, []byte(h.Key))
	buf = appendTagBytes(buf, headerFieldValue, []byte(h.Value))
	return buf
}

// encodeFrame serializes f into its wire representation.
func encodeFrame(f frame) []byte {
	var buf []byte
	buf = appendTagVarint(buf, fieldSeqID, f.SeqID)
	buf = appendTagVarint(buf, fieldLogID, f.LogID)
	buf = appendTagVarint(buf, fieldService, uint64(uint32(f.Service)))
	buf = appendTagVarint(buf, fieldMethod, uint64(uint32(f.Method)))
	for _, h := range f.Headers {
		buf = appendTagBytes(buf, fieldHeaders, encodeHeader(h))
	}
	if f.Payload != nil {
		buf = appendTagBytes(buf, fieldPayload, f.Payload)
	}
	return buf
}

// decodeFrame parses a wire frame produced by encodeFrame (or a compliant
// peer). Unknown fields of varint or length-delimited wire type are skipped
// rather than rejected; a field of any other wire type (fixed32, fixed64,
// groups) is rejected with an error.
func decodeFrame(data []byte) (frame, error) {
	var f frame
	for len(data) > 0 {
		t, n := binary.Uvarint(data)
		if n <= 0 {
			return frame{}, fmt.Errorf("lark: malformed frame tag")
		}
		data = data[n:]
		field := int(t >> 3)
		wireType := int(t & 0x7)

		switch wireType {
		case wireVarint:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return frame{}, fmt.Errorf("lark: malformed varint field %d", field)
			}
			data = data[n:]
			switch field {
			case fieldSeqID:
				f.SeqID = v
			case fieldLogID:
				f.LogID = v
			case fieldService:
				f.Service = int32(uint32(v))
			case fieldMethod:
				f.Method = int32(uint32(v))
			}
		case wireBytes:
			l, n := binary.Uvarint(data)
			if n <= 0 {
				return frame{}, fmt.Errorf("lark: malformed length for field %d", field)
			}
			data = data[n:]
			if uint64(len(data)) < l {
				return frame{}, fmt.Errorf("lark: truncated field %d", field)
			}
			chunk := data[:l]
			data = data[l:]
			switch field {
			case fieldHeaders:
				h, err := decodeHeader(chunk)
				if err != nil {
					return frame{}, err
				}
				f.Headers = append(f.Headers, h)
			case fieldPayload:
				f.Payload = append([]byte(nil), chunk...)
			}
		default:
			return frame{}, fmt.Errorf("lark: unsupported wire type %d for field %d", wireType, field)
		}
	}
	return f, nil
}

func decodeHeader(data []byte) (frameHeader, error) {
	var h frameHeader
	for len(data) > 0 {
		t, n := binary.Uvarint(data)
		if n <= 0 {
			return frameHeader{}, fmt.Errorf("lark: malformed header tag")
		}
		data = data[n:]
		field := int(t >> 3)
		wireType := int(t & 0x7)
		if wireType != wireBytes {
			return frameHeader{}, fmt.Errorf("lark: unsupported header wire type %d", wireType)
		}
		l, n := binary.Uvarint(data)
		if n <= 0 {
			return frameHeader{}, fmt.Errorf("lark: malformed header length")
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return frameHeader{}, fmt.Errorf("lark: truncated header field %d", field)
		}
		chunk := string(data[:l])
		data = data[l:]
		switch field {
		case headerFieldKey:
			h.Key = chunk
		case headerFieldValue:
			h.Value = chunk
		}
	}
	return h, nil
}

// headerValue returns the value of the first header named key, if any.
func headerValue(headers []frameHeader, key string) (string, bool) {
	for _, h := range headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}
