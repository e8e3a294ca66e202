package osdi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// magic identifies descriptor buffers: "VALD" little-endian.
const magic uint32 = 0x444c4156

// EncodeError reports a malformed descriptor buffer.
type EncodeError struct {
	Offset int
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("descriptor encoding: %s at offset %d", e.Reason, e.Offset)
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) f64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf.Write(b[:])
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) flag(b bool) {
	if b {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// EncodeBinary serializes the descriptor. The encoding is fixed
// little-endian with length-prefixed strings; the same descriptor
// always yields the same bytes.
func (d *Descriptor) EncodeBinary() []byte {
	e := &encoder{}
	e.u32(magic)
	e.u32(d.Version)
	e.str(d.Module)
	e.str(d.GraphHash)

	e.u32(uint32(len(d.Nodes)))
	for _, n := range d.Nodes {
		e.str(n.Name)
		e.str(n.Discipline)
		e.flag(n.Port)
	}

	e.u32(uint32(len(d.Params)))
	for _, p := range d.Params {
		e.str(p.Name)
		e.f64(p.Default)
		e.str(p.Unit)
		e.str(p.Desc)
		e.u32(uint32(len(p.Ranges)))
		for _, r := range p.Ranges {
			e.flag(r.Exclude)
			e.f64(r.Lo)
			e.f64(r.Hi)
			e.flag(r.LoInc)
			e.flag(r.HiInc)
		}
	}

	e.u32(uint32(len(d.Entries)))
	for _, s := range d.Entries {
		e.i32(s.Row)
		e.i32(s.Col)
		e.buf.WriteByte(byte(s.Kind))
	}

	e.u32(uint32(len(d.Noise)))
	for _, n := range d.Noise {
		e.str(n.Name)
		e.flag(n.Flicker)
		e.i32(n.Hi)
		e.i32(n.Lo)
	}

	e.u32(uint32(len(d.Collapse)))
	for _, c := range d.Collapse {
		e.i32(c.Hi)
		e.i32(c.Lo)
	}

	return e.buf.Bytes()
}

type decoder struct {
	data []byte
	off  int
}

func (dc *decoder) fail(reason string) error {
	return &EncodeError{Offset: dc.off, Reason: reason}
}

func (dc *decoder) u32() (uint32, error) {
	if dc.off+4 > len(dc.data) {
		return 0, dc.fail("truncated u32")
	}
	v := binary.LittleEndian.Uint32(dc.data[dc.off:])
	dc.off += 4
	return v, nil
}

func (dc *decoder) i32() (int32, error) {
	v, err := dc.u32()
	return int32(v), err
}

func (dc *decoder) f64() (float64, error) {
	if dc.off+8 > len(dc.data) {
		return 0, dc.fail("truncated f64")
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(dc.data[dc.off:]))
	dc.off += 8
	return v, nil
}

func (dc *decoder) str() (string, error) {
	n, err := dc.u32()
	if err != nil {
		return "", err
	}
	if dc.off+int(n) > len(dc.data) {
		return "", dc.fail("truncated string")
	}
	s := string(dc.data[dc.off : dc.off+int(n)])
	dc.off += int(n)
	return s, nil
}

func (dc *decoder) flag() (bool, error) {
	if dc.off >= len(dc.data) {
		return false, dc.fail("truncated flag")
	}
	b := dc.data[dc.off]
	dc.off++
	return b != 0, nil
}

func (dc *decoder) byte() (byte, error) {
	if dc.off >= len(dc.data) {
		return 0, dc.fail("truncated byte")
	}
	b := dc.data[dc.off]
	dc.off++
	return b, nil
}

// DecodeBinary parses a descriptor buffer produced by EncodeBinary.
func DecodeBinary(data []byte) (*Descriptor, error) {
	dc := &decoder{data: data}
	m, err := dc.u32()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, dc.fail("bad magic")
	}
	d := &Descriptor{}
	if d.Version, err = dc.u32(); err != nil {
		return nil, err
	}
	if d.Version != DescriptorVersion {
		return nil, dc.fail(fmt.Sprintf("unsupported version %d", d.Version))
	}
	if d.Module, err = dc.str(); err != nil {
		return nil, err
	}
	if d.GraphHash, err = dc.str(); err != nil {
		return nil, err
	}

	nNodes, err := dc.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nNodes; i++ {
		var n NodeDesc
		if n.Name, err = dc.str(); err != nil {
			return nil, err
		}
		if n.Discipline, err = dc.str(); err != nil {
			return nil, err
		}
		if n.Port, err = dc.flag(); err != nil {
			return nil, err
		}
		d.Nodes = append(d.Nodes, n)
	}

	nParams, err := dc.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nParams; i++ {
		var p ParamDesc
		if p.Name, err = dc.str(); err != nil {
			return nil, err
		}
		if p.Default, err = dc.f64(); err != nil {
			return nil, err
		}
		if p.Unit, err = dc.str(); err != nil {
			return nil, err
		}
		if p.Desc, err = dc.str(); err != nil {
			return nil, err
		}
		nRanges, err := dc.u32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < nRanges; j++ {
			var r RangeDesc
			if r.Exclude, err = dc.flag(); err != nil {
				return nil, err
			}
			if r.Lo, err = dc.f64(); err != nil {
				return nil, err
			}
			if r.Hi, err = dc.f64(); err != nil {
				return nil, err
			}
			if r.LoInc, err = dc.flag(); err != nil {
				return nil, err
			}
			if r.HiInc, err = dc.flag(); err != nil {
				return nil, err
			}
			p.Ranges = append(p.Ranges, r)
		}
		d.Params = append(d.Params, p)
	}

	nEntries, err := dc.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nEntries; i++ {
		var s SparseEntry
		if s.Row, err = dc.i32(); err != nil {
			return nil, err
		}
		if s.Col, err = dc.i32(); err != nil {
			return nil, err
		}
		k, err := dc.byte()
		if err != nil {
			return nil, err
		}
		s.Kind = EntryKind(k)
		d.Entries = append(d.Entries, s)
	}

	nNoise, err := dc.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nNoise; i++ {
		var n NoiseDesc
		if n.Name, err = dc.str(); err != nil {
			return nil, err
		}
		if n.Flicker, err = dc.flag(); err != nil {
			return nil, err
		}
		if n.Hi, err = dc.i32(); err != nil {
			return nil, err
		}
		if n.Lo, err = dc.i32(); err != nil {
			return nil, err
		}
		d.Noise = append(d.Noise, n)
	}

	nCollapse, err := dc.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nCollapse; i++ {
		var c CollapsePair
		if c.Hi, err = dc.i32(); err != nil {
			return nil, err
		}
		if c.Lo, err = dc.i32(); err != nil {
			return nil, err
		}
		d.Collapse = append(d.Collapse, c)
	}

	if dc.off != len(dc.data) {
		return nil, dc.fail("trailing bytes")
	}
	return d, nil
}
