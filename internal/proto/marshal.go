package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Marshal encodes a Pod into its wire form, written field-by-field with
// encoding/binary rather than reflection, matching the teacher's
// internal/uapi/marshal.go convention of explicit little-endian packing
// for every struct it puts on the wire. This is the control-channel
// encoding (§4.7); it is never on the Process hot path.
func Marshal(p Pod) ([]byte, error) {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(p.Type), byte(p.Type>>8), byte(p.Type>>16), byte(p.Type>>24))
	switch p.Type {
	case PodNone:
	case PodBool:
		if p.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case PodInt:
		buf = appendUint32(buf, uint32(p.Int))
	case PodLong:
		buf = appendUint64(buf, uint64(p.Long))
	case PodFloat:
		buf = appendUint32(buf, math.Float32bits(p.Float))
	case PodDouble:
		buf = appendUint64(buf, math.Float64bits(p.Double))
	case PodString:
		buf = appendUint32(buf, uint32(len(p.String)))
		buf = append(buf, p.String...)
	case PodBytes:
		buf = appendUint32(buf, uint32(len(p.Bytes)))
		buf = append(buf, p.Bytes...)
	case PodRectangle:
		buf = appendUint32(buf, p.Rectangle.Width)
		buf = appendUint32(buf, p.Rectangle.Height)
	case PodFraction:
		buf = appendUint32(buf, p.Fraction.Num)
		buf = appendUint32(buf, p.Fraction.Denom)
	case PodArray:
		buf = appendUint32(buf, uint32(len(p.Array)))
		for _, el := range p.Array {
			enc, err := Marshal(el)
			if err != nil {
				return nil, err
			}
			buf = appendUint32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
	case PodStruct, PodObject:
		if p.Type == PodObject {
			buf = appendUint32(buf, uint32(p.ObjectID))
		}
		buf = appendUint32(buf, uint32(len(p.Fields)))
		for name, field := range p.Fields {
			buf = appendUint32(buf, uint32(len(name)))
			buf = append(buf, name...)
			enc, err := Marshal(field)
			if err != nil {
				return nil, err
			}
			buf = appendUint32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
	case PodChoice:
		buf = appendUint32(buf, uint32(p.Choice.Kind))
		def, err := marshalAny(p.Choice.Default)
		if err != nil {
			return nil, err
		}
		buf = appendUint32(buf, uint32(len(def)))
		buf = append(buf, def...)
		buf = appendUint32(buf, uint32(len(p.Choice.Alternates)))
		for _, alt := range p.Choice.Alternates {
			enc, err := marshalAny(alt)
			if err != nil {
				return nil, err
			}
			buf = appendUint32(buf, uint32(len(enc)))
			buf = append(buf, enc...)
		}
	default:
		return nil, fmt.Errorf("proto: unknown pod type %d", p.Type)
	}
	return buf, nil
}

// marshalAny encodes a bare Go value (used inside Choice.Default/
// Alternates, which are untyped until paired with the field's own Pod
// type at the call site).
func marshalAny(v any) ([]byte, error) {
	switch val := v.(type) {
	case int32:
		return Marshal(Pod{Type: PodInt, Int: val})
	case int64:
		return Marshal(Pod{Type: PodLong, Long: val})
	case float64:
		return Marshal(Pod{Type: PodDouble, Double: val})
	case Fraction:
		return Marshal(Pod{Type: PodFraction, Fraction: val})
	case Rectangle:
		return Marshal(Pod{Type: PodRectangle, Rectangle: val})
	default:
		return nil, fmt.Errorf("proto: unsupported choice value type %T", v)
	}
}

// Unmarshal decodes a wire-form Pod previously produced by Marshal.
func Unmarshal(data []byte) (Pod, error) {
	p, _, err := unmarshalAt(data)
	return p, err
}

func unmarshalAt(data []byte) (Pod, int, error) {
	if len(data) < 4 {
		return Pod{}, 0, fmt.Errorf("proto: truncated pod header")
	}
	typ := PodType(binary.LittleEndian.Uint32(data))
	off := 4
	switch typ {
	case PodNone:
		return Pod{Type: PodNone}, off, nil
	case PodBool:
		if len(data) < off+1 {
			return Pod{}, 0, fmt.Errorf("proto: truncated bool pod")
		}
		v := data[off] != 0
		return Pod{Type: PodBool, Bool: v}, off + 1, nil
	case PodInt:
		v, n, err := readUint32(data, off)
		return Pod{Type: PodInt, Int: int32(v)}, n, err
	case PodLong:
		v, n, err := readUint64(data, off)
		return Pod{Type: PodLong, Long: int64(v)}, n, err
	case PodFloat:
		v, n, err := readUint32(data, off)
		return Pod{Type: PodFloat, Float: math.Float32frombits(v)}, n, err
	case PodDouble:
		v, n, err := readUint64(data, off)
		return Pod{Type: PodDouble, Double: math.Float64frombits(v)}, n, err
	case PodString:
		ln, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		end := n + int(ln)
		if end > len(data) {
			return Pod{}, 0, fmt.Errorf("proto: truncated string pod")
		}
		return Pod{Type: PodString, String: string(data[n:end])}, end, nil
	case PodBytes:
		ln, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		end := n + int(ln)
		if end > len(data) {
			return Pod{}, 0, fmt.Errorf("proto: truncated bytes pod")
		}
		out := make([]byte, ln)
		copy(out, data[n:end])
		return Pod{Type: PodBytes, Bytes: out}, end, nil
	case PodRectangle:
		w, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		h, n2, err := readUint32(data, n)
		if err != nil {
			return Pod{}, 0, err
		}
		return Pod{Type: PodRectangle, Rectangle: Rectangle{Width: w, Height: h}}, n2, nil
	case PodFraction:
		num, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		denom, n2, err := readUint32(data, n)
		if err != nil {
			return Pod{}, 0, err
		}
		return Pod{Type: PodFraction, Fraction: Fraction{Num: num, Denom: denom}}, n2, nil
	case PodArray:
		count, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		elems := make([]Pod, 0, count)
		for i := uint32(0); i < count; i++ {
			ln, n2, err := readUint32(data, n)
			if err != nil {
				return Pod{}, 0, err
			}
			end := n2 + int(ln)
			if end > len(data) {
				return Pod{}, 0, fmt.Errorf("proto: truncated array element")
			}
			el, _, err := unmarshalAt(data[n2:end])
			if err != nil {
				return Pod{}, 0, err
			}
			elems = append(elems, el)
			n = end
		}
		return Pod{Type: PodArray, Array: elems}, n, nil
	case PodStruct, PodObject:
		n := off
		var objID ParamID
		if typ == PodObject {
			id, n2, err := readUint32(data, n)
			if err != nil {
				return Pod{}, 0, err
			}
			objID = ParamID(id)
			n = n2
		}
		count, n2, err := readUint32(data, n)
		if err != nil {
			return Pod{}, 0, err
		}
		n = n2
		fields := make(map[string]Pod, count)
		for i := uint32(0); i < count; i++ {
			nameLen, n3, err := readUint32(data, n)
			if err != nil {
				return Pod{}, 0, err
			}
			nameEnd := n3 + int(nameLen)
			if nameEnd > len(data) {
				return Pod{}, 0, fmt.Errorf("proto: truncated field name")
			}
			name := string(data[n3:nameEnd])
			fieldLen, n4, err := readUint32(data, nameEnd)
			if err != nil {
				return Pod{}, 0, err
			}
			fieldEnd := n4 + int(fieldLen)
			if fieldEnd > len(data) {
				return Pod{}, 0, fmt.Errorf("proto: truncated field value")
			}
			field, _, err := unmarshalAt(data[n4:fieldEnd])
			if err != nil {
				return Pod{}, 0, err
			}
			fields[name] = field
			n = fieldEnd
		}
		if typ == PodObject {
			return Pod{Type: PodObject, ObjectID: objID, Fields: fields}, n, nil
		}
		return Pod{Type: PodStruct, Fields: fields}, n, nil
	case PodChoice:
		kind, n, err := readUint32(data, off)
		if err != nil {
			return Pod{}, 0, err
		}
		// Choice default/alternates are stored as nested pods and
		// converted back to bare Go values by podValue (int32, int64,
		// float64, Fraction or Rectangle, chosen by the nested pod's
		// type); any other nested type decodes to nil.
		defLen, n2, err := readUint32(data, n)
		if err != nil {
			return Pod{}, 0, err
		}
		defEnd := n2 + int(defLen)
		if defEnd > len(data) {
			return Pod{}, 0, fmt.Errorf("proto: truncated choice default")
		}
		defPod, _, err := unmarshalAt(data[n2:defEnd])
		if err != nil {
			return Pod{}, 0, err
		}
		altCount, n3, err := readUint32(data, defEnd)
		if err != nil {
			return Pod{}, 0, err
		}
		n = n3
		alts := make([]any, 0, altCount)
		for i := uint32(0); i < altCount; i++ {
			ln, n4, err := readUint32(data, n)
			if err != nil {
				return Pod{}, 0, err
			}
			end := n4 + int(ln)
			if end > len(data) {
				return Pod{}, 0, fmt.Errorf("proto: truncated choice alternate")
			}
			altPod, _, err := unmarshalAt(data[n4:end])
			if err != nil {
				return Pod{}, 0, err
			}
			alts = append(alts, podValue(altPod))
			n = end
		}
		return Pod{Type: PodChoice, Choice: Choice{Kind: ChoiceKind(kind), Default: podValue(defPod), Alternates: alts}}, n, nil
	default:
		return Pod{}, 0, fmt.Errorf("proto: unknown pod type %d", typ)
	}
}

func podValue(p Pod) any {
	switch p.Type {
	case PodInt:
		return p.Int
	case PodLong:
		return p.Long
	case PodDouble:
		return p.Double
	case PodFraction:
		return p.Fraction
	case PodRectangle:
		return p.Rectangle
	default:
		return nil
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readUint32(data []byte, off int) (uint32, int, error) {
	if len(data) < off+4 {
		return 0, 0, fmt.Errorf("proto: truncated u32 at offset %d", off)
	}
	return binary.LittleEndian.Uint32(data[off:]), off + 4, nil
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if len(data) < off+8 {
		return 0, 0, fmt.Errorf("proto: truncated u64 at offset %d", off)
	}
	return binary.LittleEndian.Uint64(data[off:]), off + 8, nil
}
