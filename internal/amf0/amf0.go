// Package amf0 implements the AMF0 value encoding used by RTMP command
// and data messages: ordered objects, ECMA arrays, strict arrays, and
// the scalar kinds. Object and ECMA-array members keep insertion order
// (a slice of pairs) rather than a map, so that Size and Encode walk
// the exact same sequence — a map keyed by string, re-sorted at encode
// time the way the ancestor implementation did it, cannot satisfy
// size(v) == len(encode(v)) together with a stable round trip.
package amf0

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/AgustinSRG/relaystream/internal/rtmperr"
)

type Type byte

const (
	TypeNumber      Type = 0x00
	TypeBoolean     Type = 0x01
	TypeString      Type = 0x02
	TypeObject      Type = 0x03
	TypeNull        Type = 0x05
	TypeUndefined   Type = 0x06
	TypeReference   Type = 0x07
	TypeECMAArray   Type = 0x08
	TypeObjectEnd   Type = 0x09
	TypeStrictArray Type = 0x0A
	TypeDate        Type = 0x0B
	TypeLongString  Type = 0x0C
	TypeXMLDocument Type = 0x0F
	TypeTypedObject Type = 0x10
	TypeAVMPlus     Type = 0x11
)

// Pair is one ordered member of an Object or ECMAArray value.
type Pair struct {
	Key   string
	Value *Value
}

// Value is a recursive AMF0 value. Only the fields relevant to Type are
// meaningful.
type Value struct {
	Type   Type
	Num    float64
	Bool   bool
	Str    string
	Object []Pair  // TypeObject, TypeECMAArray
	Array  []*Value // TypeStrictArray
}

func Number(v float64) *Value    { return &Value{Type: TypeNumber, Num: v} }
func Boolean(v bool) *Value      { return &Value{Type: TypeBoolean, Bool: v} }
func String(v string) *Value     { return &Value{Type: TypeString, Str: v} }
func Null() *Value               { return &Value{Type: TypeNull} }
func Undefined() *Value          { return &Value{Type: TypeUndefined} }
func Object(pairs ...Pair) *Value {
	return &Value{Type: TypeObject, Object: pairs}
}
func ECMAArray(pairs ...Pair) *Value {
	return &Value{Type: TypeECMAArray, Object: pairs}
}
func StrictArray(items ...*Value) *Value {
	return &Value{Type: TypeStrictArray, Array: items}
}

// Get returns the value for key in an Object/ECMAArray value, in
// insertion order (first match wins, matching how publishers typically
// send onMetaData with no duplicate keys).
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil {
		return nil, false
	}
	for _, p := range v.Object {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Set upserts key, preserving its original position if present or
// appending if not. Only valid on Object/ECMAArray values.
func (v *Value) Set(key string, val *Value) {
	for i := range v.Object {
		if v.Object[i].Key == key {
			v.Object[i].Value = val
			return
		}
	}
	v.Object = append(v.Object, Pair{Key: key, Value: val})
}

func (v *Value) AsNumber() float64 { return v.Num }
func (v *Value) AsString() string  { return v.Str }
func (v *Value) AsBool() bool      { return v.Bool }

// Size returns the exact number of bytes Encode will write for v. The
// chunk header's message-length must be known before the body is
// serialized, so this must be computable without encoding first.
func Size(v *Value) int {
	switch v.Type {
	case TypeNumber:
		return 9
	case TypeBoolean:
		return 2
	case TypeString:
		if len(v.Str) > 0xFFFF {
			return 5 + len(v.Str)
		}
		return 3 + len(v.Str)
	case TypeLongString:
		return 5 + len(v.Str)
	case TypeNull, TypeUndefined:
		return 1
	case TypeObject:
		n := 4
		for _, p := range v.Object {
			n += 2 + len(p.Key) + Size(p.Value)
		}
		return n
	case TypeECMAArray:
		n := 8
		for _, p := range v.Object {
			n += 2 + len(p.Key) + Size(p.Value)
		}
		return n
	case TypeStrictArray:
		n := 5
		for _, item := range v.Array {
			n += Size(item)
		}
		return n
	default:
		return 1
	}
}

// Encode writes one AMF0 value to w.
func Encode(v *Value, w io.Writer) error {
	switch v.Type {
	case TypeNumber:
		buf := make([]byte, 9)
		buf[0] = byte(TypeNumber)
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.Num))
		_, err := w.Write(buf)
		return err
	case TypeBoolean:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{byte(TypeBoolean), b})
		return err
	case TypeString:
		return encodeString(v.Str, w)
	case TypeLongString:
		buf := make([]byte, 5)
		buf[0] = byte(TypeLongString)
		binary.BigEndian.PutUint32(buf[1:], uint32(len(v.Str)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
		_, err := io.WriteString(w, v.Str)
		return err
	case TypeNull:
		_, err := w.Write([]byte{byte(TypeNull)})
		return err
	case TypeUndefined:
		_, err := w.Write([]byte{byte(TypeUndefined)})
		return err
	case TypeObject:
		if _, err := w.Write([]byte{byte(TypeObject)}); err != nil {
			return err
		}
		for _, p := range v.Object {
			if err := encodeKey(p.Key, w); err != nil {
				return err
			}
			if err := Encode(p.Value, w); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{0, 0, byte(TypeObjectEnd)})
		return err
	case TypeECMAArray:
		buf := make([]byte, 5)
		buf[0] = byte(TypeECMAArray)
		binary.BigEndian.PutUint32(buf[1:], uint32(len(v.Object)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
		for _, p := range v.Object {
			if err := encodeKey(p.Key, w); err != nil {
				return err
			}
			if err := Encode(p.Value, w); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{0, 0, byte(TypeObjectEnd)})
		return err
	case TypeStrictArray:
		buf := make([]byte, 5)
		buf[0] = byte(TypeStrictArray)
		binary.BigEndian.PutUint32(buf[1:], uint32(len(v.Array)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
		for _, item := range v.Array {
			if err := Encode(item, w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: amf0 type 0x%02x has no encoder", rtmperr.Unsupported, v.Type)
	}
}

func encodeString(s string, w io.Writer) error {
	if len(s) > 0xFFFF {
		buf := make([]byte, 5)
		buf[0] = byte(TypeLongString)
		binary.BigEndian.PutUint32(buf[1:], uint32(len(s)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	}
	buf := make([]byte, 3)
	buf[0] = byte(TypeString)
	binary.BigEndian.PutUint16(buf[1:], uint16(len(s)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// encodeKey writes a bare UTF8 string (2-byte length prefix, no type
// marker), the form used for object/array member keys.
func encodeKey(s string, w io.Writer) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// Reader decodes a sequence of AMF0 values from an in-memory buffer.
// RTMP command/data messages commonly hold several top-level values
// back to back (command name, transaction id, argument object, ...).
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Done() bool {
	return r.pos >= len(r.buf)
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: amf0 buffer underrun", rtmperr.ProtocolViolation)
	}
	return nil
}

// ReadValue decodes exactly one top-level value and advances the cursor.
func (r *Reader) ReadValue() (*Value, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	t := Type(r.buf[r.pos])
	r.pos++
	switch t {
	case TypeNumber:
		if err := r.need(8); err != nil {
			return nil, err
		}
		bits := binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
		return Number(math.Float64frombits(bits)), nil
	case TypeBoolean:
		if err := r.need(1); err != nil {
			return nil, err
		}
		b := r.buf[r.pos] != 0
		r.pos++
		return Boolean(b), nil
	case TypeString:
		s, err := r.readShortString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TypeLongString:
		s, err := r.readLongString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TypeNull:
		return Null(), nil
	case TypeUndefined:
		return Undefined(), nil
	case TypeObject:
		return r.readObject(TypeObject)
	case TypeECMAArray:
		if err := r.need(4); err != nil {
			return nil, err
		}
		r.pos += 4 // approximate member count, not authoritative; we read until the end marker
		return r.readObject(TypeECMAArray)
	case TypeStrictArray:
		if err := r.need(4); err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		items := make([]*Value, 0, count)
		for i := uint32(0); i < count; i++ {
			item, err := r.ReadValue()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return StrictArray(items...), nil
	case TypeDate, TypeXMLDocument, TypeTypedObject, TypeAVMPlus, TypeReference:
		return nil, fmt.Errorf("%w: amf0 type 0x%02x", rtmperr.Unsupported, t)
	default:
		return nil, fmt.Errorf("%w: unknown amf0 type 0x%02x", rtmperr.ProtocolViolation, t)
	}
}

func (r *Reader) readShortString() (string, error) {
	if err := r.need(2); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *Reader) readLongString() (string, error) {
	if err := r.need(4); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

// readObject reads key/value pairs until the 0x00 0x00 0x09 end marker.
func (r *Reader) readObject(t Type) (*Value, error) {
	var pairs []Pair
	for {
		if r.pos+3 <= len(r.buf) &&
			r.buf[r.pos] == 0 && r.buf[r.pos+1] == 0 && r.buf[r.pos+2] == byte(TypeObjectEnd) {
			r.pos += 3
			break
		}
		key, err := r.readShortString()
		if err != nil {
			return nil, err
		}
		val, err := r.ReadValue()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	return &Value{Type: t, Object: pairs}, nil
}
