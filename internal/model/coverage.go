package model

import (
	"fmt"
	"sort"
)

type CoverageState string

const (
	CoverageInit                CoverageState = "init"
	CoverageInventoryGenerated  CoverageState = "inventory_generated"
	CoveragePartial             CoverageState = "partial_coverage"
	CoverageFull                CoverageState = "full_coverage"
	CoverageMaxAttemptsExceeded CoverageState = "max_attempts_exceeded"
)

func (s CoverageState) IsTerminal() bool {
	return s == CoverageFull || s == CoverageMaxAttemptsExceeded
}

func isAllowedCoverageTransition(from, to CoverageState) bool {
	switch from {
	case CoverageInit:
		return to == CoverageInventoryGenerated
	case CoverageInventoryGenerated:
		return to == CoverageFull || to == CoveragePartial
	case CoveragePartial:
		return to == CoveragePartial || to == CoverageFull || to == CoverageMaxAttemptsExceeded
	default:
		return false
	}
}

// Violation records a scenario that was not merged into the plan.
type Violation struct {
	InventoryID int    `json:"inventory_id"`
	Round       int    `json:"round"`
	Reason      string `json:"reason"`
}

// CoveragePlan maps the frozen inventory to at most one accepted scenario per id.
type CoveragePlan struct {
	Inventory       []InventoryItem `json:"inventory"`
	State           CoverageState   `json:"state"`
	Attempts        int             `json:"attempts"`         // completion rounds issued
	GenerationCalls int             `json:"generation_calls"` // successful generation calls
	Violations      []Violation     `json:"violations,omitempty"`

	scenarios map[int]Scenario
}

func NewCoveragePlan() *CoveragePlan {
	return &CoveragePlan{
		State:     CoverageInit,
		scenarios: make(map[int]Scenario),
	}
}

// Transition moves the plan to a new state, rejecting moves the state
// machine does not allow.
func (p *CoveragePlan) Transition(to CoverageState) error {
	if !isAllowedCoverageTransition(p.State, to) {
		return fmt.Errorf("disallowed coverage transition: %s -> %s", p.State, to)
	}
	p.State = to
	return nil
}

// FreezeInventory sets the inventory. It can only happen once.
func (p *CoveragePlan) FreezeInventory(items []InventoryItem) error {
	if p.Inventory != nil {
		return fmt.Errorf("inventory already frozen with %d items", len(p.Inventory))
	}
	p.Inventory = append([]InventoryItem(nil), items...)
	return nil
}

func (p *CoveragePlan) N() int {
	return len(p.Inventory)
}

func (p *CoveragePlan) IsCovered(id int) bool {
	_, ok := p.scenarios[id]
	return ok
}

// Accept merges s. It reports false when the id is out of range or already covered.
func (p *CoveragePlan) Accept(s Scenario) bool {
	if s.InventoryID < 1 || s.InventoryID > p.N() || p.IsCovered(s.InventoryID) {
		return false
	}
	p.scenarios[s.InventoryID] = s
	return true
}

func (p *CoveragePlan) Reject(v Violation) {
	p.Violations = append(p.Violations, v)
}

// Missing returns the uncovered ids in ascending order.
func (p *CoveragePlan) Missing() []int {
	var missing []int
	for id := 1; id <= p.N(); id++ {
		if !p.IsCovered(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func (p *CoveragePlan) Covered() int {
	return len(p.scenarios)
}

// Scenarios returns the accepted scenarios ordered by inventory id.
func (p *CoveragePlan) Scenarios() []Scenario {
	out := make([]Scenario, 0, len(p.scenarios))
	for _, s := range p.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryID < out[j].InventoryID })
	return out
}

func (p *CoveragePlan) Item(id int) (InventoryItem, bool) {
	if id < 1 || id > p.N() {
		return InventoryItem{}, false
	}
	return p.Inventory[id-1], true
}
