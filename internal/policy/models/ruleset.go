package models

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	id "complyd/pkg/domain"
)

// RuleSet stores a run's rules as a flat arena. Dependencies are integer
// indices into the same slice, and Order is a topological order in which every
// parent precedes its children. A RuleSet is immutable after construction.
type RuleSet struct {
	rules    []Rule
	index    map[id.RuleID]int
	parents  [][]int
	children [][]int
	order    []int
}

// NewRuleSet sorts rules by ID, resolves parent references to indices and
// rejects duplicates, dangling parents and cycles.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })

	rs := &RuleSet{
		rules:    sorted,
		index:    make(map[id.RuleID]int, len(sorted)),
		parents:  make([][]int, len(sorted)),
		children: make([][]int, len(sorted)),
	}
	for i, r := range sorted {
		if _, dup := rs.index[r.RuleID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.RuleID)
		}
		rs.index[r.RuleID] = i
	}
	for i, r := range sorted {
		seen := make(map[int]bool, len(r.ParentRuleIDs))
		for _, pid := range r.ParentRuleIDs {
			p, ok := rs.index[pid]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingParent, r.RuleID, pid)
			}
			if p == i {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrRuleCycle, r.RuleID)
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			rs.parents[i] = append(rs.parents[i], p)
			rs.children[p] = append(rs.children[p], i)
		}
		sort.Ints(rs.parents[i])
	}
	for i := range rs.children {
		sort.Ints(rs.children[i])
	}

	order, err := rs.topoSort()
	if err != nil {
		return nil, err
	}
	rs.order = order
	return rs, nil
}

// topoSort is Kahn's algorithm with a min-heap so the order is deterministic.
func (rs *RuleSet) topoSort() ([]int, error) {
	indegree := make([]int, len(rs.rules))
	for i := range rs.rules {
		indegree[i] = len(rs.parents[i])
	}
	ready := &intHeap{}
	for i, d := range indegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]int, 0, len(rs.rules))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, n)
		for _, c := range rs.children[n] {
			indegree[c]--
			if indegree[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}
	if len(order) != len(rs.rules) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, string(rs.rules[i].RuleID))
			}
		}
		return nil, fmt.Errorf("%w among [%s]", ErrRuleCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rule returns the rule at arena index i.
func (rs *RuleSet) Rule(i int) Rule { return rs.rules[i] }

// Index returns the arena index of ruleID.
func (rs *RuleSet) Index(ruleID id.RuleID) (int, bool) {
	i, ok := rs.index[ruleID]
	return i, ok
}

// Parents returns the arena indices of rule i's parents, ascending.
func (rs *RuleSet) Parents(i int) []int { return rs.parents[i] }

// Children returns the arena indices of rules depending on rule i, ascending.
func (rs *RuleSet) Children(i int) []int { return rs.children[i] }

// Order returns a topological order of arena indices.
func (rs *RuleSet) Order() []int { return append([]int(nil), rs.order...) }

// Rules returns a copy of the rules sorted by ID.
func (rs *RuleSet) Rules() []Rule { return append([]Rule(nil), rs.rules...) }

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
