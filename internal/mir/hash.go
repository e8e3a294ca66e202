package mir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future encoding migration without colliding with old hashes.
const (
	DomainSource = "valc/source/v1"
	DomainGraph  = "valc/graph/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SourceHash computes the content hash of a source buffer. Used as the
// memoization key for the parse and resolve queries.
func SourceHash(src string) string {
	return HashWithDomain(DomainSource, []byte(src))
}

type hashEnc struct {
	h hash.Hash
}

func (e *hashEnc) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.h.Write(buf[:])
}

func (e *hashEnc) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	e.h.Write(buf[:])
}

func (e *hashEnc) f64(v float64) { e.u64(math.Float64bits(v)) }

// str writes a length-prefixed, NFC-normalized string. Normalization
// keeps hashes stable across visually identical identifier spellings.
func (e *hashEnc) str(s string) {
	n := norm.NFC.String(s)
	e.u32(uint32(len(n)))
	e.h.Write([]byte(n))
}

func (e *hashEnc) id(v ValueID) { e.u32(uint32(int32(v))) }

// ContentHash computes a stable content hash of the whole graph:
// tables, arena, and block structure. Two graphs with identical
// semantics and identical construction order hash identically, which
// is what the memoization cache keys on.
func (g *Graph) ContentHash() string {
	e := &hashEnc{h: sha256.New()}
	e.h.Write([]byte(DomainGraph))
	e.h.Write([]byte{0x00})

	e.str(g.ModuleName)

	e.u32(uint32(len(g.Nodes)))
	for _, n := range g.Nodes {
		e.str(n.Name)
		e.str(n.Discipline)
		if n.Port {
			e.u32(1)
		} else {
			e.u32(0)
		}
	}

	e.u32(uint32(len(g.Branches)))
	for _, b := range g.Branches {
		e.str(b.Name)
		e.u32(uint32(int32(b.Hi)))
		e.u32(uint32(int32(b.Lo)))
	}

	e.u32(uint32(len(g.Params)))
	for _, p := range g.Params {
		e.str(p.Name)
		e.u32(uint32(p.Ty))
		e.f64(p.Default)
		e.str(p.Unit)
		e.str(p.Desc)
		e.u32(uint32(len(p.Ranges)))
		for _, r := range p.Ranges {
			if r.Exclude {
				e.u32(1)
			} else {
				e.u32(0)
			}
			e.f64(r.Lo)
			e.f64(r.Hi)
			if r.LoInc {
				e.u32(1)
			} else {
				e.u32(0)
			}
			if r.HiInc {
				e.u32(1)
			} else {
				e.u32(0)
			}
		}
	}

	e.u32(uint32(len(g.vals)))
	for i := range g.vals {
		in := &g.vals[i]
		e.u32(uint32(in.Op))
		e.u32(uint32(in.Ty))
		e.u32(uint32(len(in.Args)))
		for _, a := range in.Args {
			e.id(a)
		}
		e.f64(in.Const)
		e.u32(uint32(int32(in.Param)))
		e.u32(uint32(int32(in.Hi)))
		e.u32(uint32(int32(in.Lo)))
		e.u32(uint32(in.Bin))
		e.u32(uint32(in.Un))
		e.u32(uint32(in.Builtin))
		e.str(in.Limiter)
		e.u32(uint32(in.Noise.Kind))
		e.str(in.Noise.Name)
		e.u32(uint32(int32(in.Noise.Branch)))
		e.u32(uint32(int32(in.Contrib.Branch)))
		e.u32(uint32(in.Contrib.Kind))
		e.id(in.Contrib.Path)
	}

	e.u32(uint32(len(g.Blocks)))
	for i := range g.Blocks {
		b := &g.Blocks[i]
		e.u32(uint32(len(b.Instrs)))
		for _, v := range b.Instrs {
			e.id(v)
		}
		e.u32(uint32(b.Term.Kind))
		e.id(b.Term.Cond)
		e.u32(uint32(int32(b.Term.Then)))
		e.u32(uint32(int32(b.Term.Else)))
		e.u32(uint32(len(b.Preds)))
		for _, p := range b.Preds {
			e.u32(uint32(int32(p)))
		}
	}

	e.u32(uint32(int32(g.Entry)))
	e.u32(uint32(int32(g.Exit)))

	return hex.EncodeToString(e.h.Sum(nil))
}
