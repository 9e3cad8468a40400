package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/s2"
	"github.com/stratumdb/stratum/internal/value"
	"github.com/stratumdb/stratum/pkg/models"
)

// Row block wire format, little-endian varints throughout:
//
//	row   := time(varint zigzag) ntags(uvarint) tag* nfields(uvarint) field*
//	tag   := len(uvarint) bytes len(uvarint) bytes
//	field := len(uvarint) bytes kind(byte) payload
//
// Blocks are s2-compressed independently so a scan only decompresses the
// blocks its time range touches.

func appendRow(buf []byte, row *models.Row) []byte {
	buf = binary.AppendVarint(buf, row.Time)
	buf = binary.AppendUvarint(buf, uint64(len(row.Tags)))
	for k, v := range row.Tags {
		buf = appendString(buf, k)
		buf = appendString(buf, v)
	}
	buf = binary.AppendUvarint(buf, uint64(len(row.Fields)))
	for k, v := range row.Fields {
		buf = appendString(buf, k)
		buf = appendValue(buf, v)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendValue(buf []byte, v value.Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case value.KindBool:
		if v.B {
			return append(buf, 1)
		}
		return append(buf, 0)
	case value.KindInt, value.KindTimestamp:
		return binary.AppendVarint(buf, v.I)
	case value.KindUint:
		return binary.AppendUvarint(buf, v.U)
	case value.KindFloat:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F))
	case value.KindString:
		return appendString(buf, v.S)
	default: // null carries no payload
		return buf
	}
}

type rowDecoder struct {
	buf []byte
	off int
}

func (d *rowDecoder) remaining() bool { return d.off < len(d.buf) }

func (d *rowDecoder) next() (models.Row, error) {
	t, err := d.varint()
	if err != nil {
		return models.Row{}, err
	}
	row := models.Row{Time: t}

	ntags, err := d.uvarint()
	if err != nil {
		return models.Row{}, err
	}
	if ntags > 0 {
		row.Tags = make(map[string]string, ntags)
		for i := uint64(0); i < ntags; i++ {
			k, err := d.str()
			if err != nil {
				return models.Row{}, err
			}
			v, err := d.str()
			if err != nil {
				return models.Row{}, err
			}
			row.Tags[k] = v
		}
	}

	nfields, err := d.uvarint()
	if err != nil {
		return models.Row{}, err
	}
	if nfields > 0 {
		row.Fields = make(map[string]value.Value, nfields)
		for i := uint64(0); i < nfields; i++ {
			k, err := d.str()
			if err != nil {
				return models.Row{}, err
			}
			v, err := d.value()
			if err != nil {
				return models.Row{}, err
			}
			row.Fields[k] = v
		}
	}
	return row, nil
}

func (d *rowDecoder) varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("corrupt row block at offset %d", d.off)
	}
	d.off += n
	return v, nil
}

func (d *rowDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("corrupt row block at offset %d", d.off)
	}
	d.off += n
	return v, nil
}

func (d *rowDecoder) str() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if d.off+int(n) > len(d.buf) {
		return "", fmt.Errorf("corrupt row block: string overruns buffer")
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}

func (d *rowDecoder) value() (value.Value, error) {
	if d.off >= len(d.buf) {
		return value.Null(), fmt.Errorf("corrupt row block: missing value kind")
	}
	kind := value.Kind(d.buf[d.off])
	d.off++
	switch kind {
	case value.KindNull:
		return value.Null(), nil
	case value.KindBool:
		if d.off >= len(d.buf) {
			return value.Null(), fmt.Errorf("corrupt row block: missing bool payload")
		}
		b := d.buf[d.off] != 0
		d.off++
		return value.Bool(b), nil
	case value.KindInt:
		i, err := d.varint()
		return value.Int(i), err
	case value.KindTimestamp:
		i, err := d.varint()
		return value.Timestamp(i), err
	case value.KindUint:
		u, err := d.uvarint()
		return value.Uint(u), err
	case value.KindFloat:
		if d.off+8 > len(d.buf) {
			return value.Null(), fmt.Errorf("corrupt row block: missing float payload")
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(d.buf[d.off:]))
		d.off += 8
		return value.Float(f), nil
	case value.KindString:
		s, err := d.str()
		return value.String(s), err
	default:
		return value.Null(), fmt.Errorf("corrupt row block: unknown value kind %d", kind)
	}
}

func compressBlock(raw []byte) []byte {
	return s2.Encode(nil, raw)
}

func decompressBlock(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress row block: %w", err)
	}
	return out, nil
}
