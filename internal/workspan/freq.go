package workspan

import "chiabi/internal/ir"

// BlockFrequencies supplies relative block execution frequencies, usually
// from profile data. A zero or missing frequency means unknown.
type BlockFrequencies interface {
	Frequency(b *ir.Block) uint64
}

// FreqMap is a BlockFrequencies backed by a plain map.
type FreqMap map[*ir.Block]uint64

func (m FreqMap) Frequency(b *ir.Block) uint64 { return m[b] }

// FreqByName resolves block names of f into a FreqMap; unknown names are ignored.
func FreqByName(f *ir.Func, byName map[string]uint64) FreqMap {
	m := make(FreqMap, len(byName))
	for name, freq := range byName {
		if b := f.BlockByName(name); b != nil {
			m[b] = freq
		}
	}
	return m
}

func freqOf(bf BlockFrequencies, b *ir.Block) uint64 {
	if bf == nil {
		return 0
	}
	return bf.Frequency(b)
}
