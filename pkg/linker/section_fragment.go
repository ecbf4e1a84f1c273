package linker

import (
	"math"
	"sort"
)

type MergeableSection struct {
	Parent      *MergedSection
	P2Align     uint8
	Strs        []string
	FragOffsets []uint32
	Fragments   []*SectionFragment
}

func (m *MergeableSection) GetFragment(offset uint32) (*SectionFragment, uint32) {
	idx := sort.Search(len(m.FragOffsets), func(i int) bool {
		return m.FragOffsets[i] > offset
	}) - 1
	if idx < 0 {
		return nil, 0
	}
	return m.Fragments[idx], offset - m.FragOffsets[idx]
}

type SectionFragment struct {
	OutputSection *MergedSection
	Offset        uint32
	P2Align       uint32
	IsAlive       bool
}

func NewSectionFragment(m *MergedSection) *SectionFragment {
	return &SectionFragment{OutputSection: m, Offset: math.MaxUint32}
}

func (f *SectionFragment) GetAddr() uint64 {
	return f.OutputSection.Shdr.Addr + uint64(f.Offset)
}
