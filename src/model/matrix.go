package model

import (
	"sort"
	"time"
)

// BranchHealth is the rollup status for one branch.
type BranchHealth string

const (
	// HealthOK means no tracked builder on the branch is failing.
	HealthOK BranchHealth = "ok"
	// HealthConcern means only tier-3 or untiered builders are failing.
	HealthConcern BranchHealth = "concern"
	// HealthBad means a tier-1 or tier-2 builder is failing.
	HealthBad BranchHealth = "bad"
)

// CellKey identifies one (branch, builder) position in the matrix.
type CellKey struct {
	Branch  Branch
	Builder string
}

// Matrix is the aggregator's output: exactly one StatusCell for every
// tracked (branch, builder) pair, plus per-branch health rollups. It is a
// read-only snapshot; renderers must not mutate it.
type Matrix struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Branches    []Branch                `json:"branches"`
	Builders    []Builder               `json:"builders"`
	Cells       map[CellKey]*StatusCell `json:"-"`
}

// NewMatrix allocates a matrix for the given reference data. Branches are
// ordered newest minor version first, builders by tier then name
// (untiered last), matching how the dashboard lists them.
func NewMatrix(branches []Branch, builders []Builder, generatedAt time.Time) *Matrix {
	bs := make([]Branch, len(branches))
	copy(bs, branches)
	sort.SliceStable(bs, func(i, j int) bool {
		return bs[i].MinorVersion() > bs[j].MinorVersion()
	})

	ws := make([]Builder, len(builders))
	copy(ws, builders)
	sort.SliceStable(ws, func(i, j int) bool {
		ti, tj := tierSortKey(ws[i].Tier), tierSortKey(ws[j].Tier)
		if ti != tj {
			return ti < tj
		}
		return ws[i].Name < ws[j].Name
	})

	return &Matrix{
		GeneratedAt: generatedAt,
		Branches:    bs,
		Builders:    ws,
		Cells:       make(map[CellKey]*StatusCell, len(bs)*len(ws)),
	}
}

func tierSortKey(tier string) string {
	if tier == "" {
		return "zzz" // untiered sorts last
	}
	return tier
}

// Set stores the cell for its (branch, builder) position.
func (m *Matrix) Set(cell *StatusCell) {
	m.Cells[CellKey{Branch: cell.Branch, Builder: cell.Builder.Name}] = cell
}

// Cell returns the cell at (branch, builder), or nil when the pair is not
// tracked. Tracked pairs always have a cell.
func (m *Matrix) Cell(branch Branch, builder string) *StatusCell {
	return m.Cells[CellKey{Branch: branch, Builder: builder}]
}

// Walk visits every cell in display order: branches newest-first, builders
// tier-then-name within each branch.
func (m *Matrix) Walk(visit func(cell *StatusCell)) {
	for _, branch := range m.Branches {
		for _, builder := range m.Builders {
			if cell := m.Cell(branch, builder.Name); cell != nil {
				visit(cell)
			}
		}
	}
}

// Health computes the rollup status for one branch: bad when a tier-1 or
// tier-2 builder reports failure, concern when any other builder does,
// ok otherwise. Unknown cells never degrade health.
func (m *Matrix) Health(branch Branch) BranchHealth {
	health := HealthOK
	for _, builder := range m.Builders {
		cell := m.Cell(branch, builder.Name)
		if cell == nil || cell.Outcome != OutcomeFailure {
			continue
		}
		if builder.Tier == "tier-1" || builder.Tier == "tier-2" {
			return HealthBad
		}
		health = HealthConcern
	}
	return health
}
