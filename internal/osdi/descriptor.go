// Package osdi emits the simulator-facing descriptor of a compiled
// module: parameter and node tables, the Jacobian sparsity pattern
// split into resistive and reactive parts, noise sources, and node
// collapse candidates. The descriptor is pure data with a fixed binary
// encoding; evaluation happens through a Backend bound to the lowered
// graph.
package osdi

import (
	"sort"

	"github.com/vamodel/valc/internal/deriv"
	"github.com/vamodel/valc/internal/mir"
)

// DescriptorVersion is the encoding version. Decoders reject any other
// value.
const DescriptorVersion uint32 = 1

// NodeDesc is one terminal in the descriptor's node table. Index order
// matches mir.NodeID.
type NodeDesc struct {
	Name       string
	Discipline string
	Port       bool
}

// RangeDesc is one parameter bound.
type RangeDesc struct {
	Exclude bool
	Lo, Hi  float64
	LoInc   bool
	HiInc   bool
}

// ParamDesc is one parameter table row.
type ParamDesc struct {
	Name    string
	Default float64
	Unit    string
	Desc    string
	Ranges  []RangeDesc
}

// EntryKind flags which matrices a sparsity slot participates in.
type EntryKind uint8

const (
	EntryResistive EntryKind = 1 << iota
	EntryReactive
)

// SparseEntry is one structurally nonzero Jacobian slot. Row and Col
// index the node table; ground never appears.
type SparseEntry struct {
	Row  int32
	Col  int32
	Kind EntryKind
}

// NoiseDesc is one noise source bound to a branch. Lo is -1 for
// node-to-ground branches.
type NoiseDesc struct {
	Name    string
	Flicker bool
	Hi, Lo  int32
}

// CollapsePair is a candidate node merge. Lo is -1 when the branch
// shorts to ground.
type CollapsePair struct {
	Hi, Lo int32
}

// Descriptor is the complete interface record of one compiled module.
type Descriptor struct {
	Version   uint32
	Module    string
	GraphHash string

	Nodes    []NodeDesc
	Params   []ParamDesc
	Entries  []SparseEntry
	Noise    []NoiseDesc
	Collapse []CollapsePair
}

// Emit builds the descriptor for an optimized graph and its Jacobian.
// Output order is fully determined by the graph, so identical graphs
// produce byte-identical encodings.
func Emit(g *mir.Graph, m *deriv.Matrix) *Descriptor {
	d := &Descriptor{
		Version:   DescriptorVersion,
		Module:    g.ModuleName,
		GraphHash: g.ContentHash(),
	}

	for _, n := range g.Nodes {
		d.Nodes = append(d.Nodes, NodeDesc{Name: n.Name, Discipline: n.Discipline, Port: n.Port})
	}
	for _, p := range g.Params {
		pd := ParamDesc{Name: p.Name, Default: p.Default, Unit: p.Unit, Desc: p.Desc}
		for _, r := range p.Ranges {
			pd.Ranges = append(pd.Ranges, RangeDesc{
				Exclude: r.Exclude, Lo: r.Lo, Hi: r.Hi, LoInc: r.LoInc, HiInc: r.HiInc,
			})
		}
		d.Params = append(d.Params, pd)
	}

	type slot struct{ row, col int32 }
	kinds := make(map[slot]EntryKind)
	for _, e := range m.Resistive {
		kinds[slot{int32(e.Row), int32(e.Col)}] |= EntryResistive
	}
	for _, e := range m.Reactive {
		kinds[slot{int32(e.Row), int32(e.Col)}] |= EntryReactive
	}
	for k, kind := range kinds {
		d.Entries = append(d.Entries, SparseEntry{Row: k.row, Col: k.col, Kind: kind})
	}
	sort.Slice(d.Entries, func(i, j int) bool {
		if d.Entries[i].Row != d.Entries[j].Row {
			return d.Entries[i].Row < d.Entries[j].Row
		}
		return d.Entries[i].Col < d.Entries[j].Col
	})

	for _, nid := range g.Noises {
		in := g.Value(nid)
		br := g.Branches[in.Noise.Branch]
		d.Noise = append(d.Noise, NoiseDesc{
			Name:    in.Noise.Name,
			Flicker: in.Noise.Kind == mir.NoiseFlicker,
			Hi:      int32(br.Hi),
			Lo:      int32(br.Lo),
		})
	}

	for bi := range g.Blocks {
		for _, v := range g.Blocks[bi].Instrs {
			in := g.Value(v)
			if in.Op == mir.OpCollapse {
				d.Collapse = append(d.Collapse, CollapsePair{Hi: int32(in.Hi), Lo: int32(in.Lo)})
			}
		}
	}

	return d
}
