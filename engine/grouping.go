package engine

import "sort"

// =============================================================================
// BILL GROUP RESOLVER - Shared due dates get one penalty calculation
// =============================================================================

// ResolveDueDate returns the bill's explicit due date, or the first calendar
// day of its period's month when none is set. No grace period is applied.
func ResolveDueDate(b Bill, fiscalYearStartMonth int) Date {
	if !b.DueDate.IsZero() {
		return b.DueDate
	}
	if fiscalYearStartMonth == 0 {
		fiscalYearStartMonth = 1
	}
	return FiscalMonthStart(b.Period, fiscalYearStartMonth)
}

// GroupByDueDate partitions bills into groups sharing an identical resolved
// due date. Groups are returned oldest first and bills within a group are in
// ascending period order. Monthly billing yields groups of one; quarterly
// billing yields one group per quarter.
func GroupByDueDate(bills []Bill, fiscalYearStartMonth int) []BillGroup {
	idx := groupIndices(bills, fiscalYearStartMonth)
	groups := make([]BillGroup, len(idx))
	for i, g := range idx {
		groups[i].DueDate = g.due
		for _, j := range g.members {
			groups[i].Bills = append(groups[i].Bills, bills[j])
		}
	}
	return groups
}

type indexGroup struct {
	due     Date
	members []int // positions into the input slice, ascending by period
}

func groupIndices(bills []Bill, fiscalYearStartMonth int) []indexGroup {
	byDate := make(map[string]*indexGroup)
	var order []*indexGroup
	for i, b := range bills {
		due := ResolveDueDate(b, fiscalYearStartMonth)
		k := due.String()
		g, ok := byDate[k]
		if !ok {
			g = &indexGroup{due: due}
			byDate[k] = g
			order = append(order, g)
		}
		g.members = append(g.members, i)
	}

	sort.SliceStable(order, func(a, b int) bool { return order[a].due.Before(order[b].due) })

	out := make([]indexGroup, len(order))
	for i, g := range order {
		sort.SliceStable(g.members, func(a, b int) bool {
			return bills[g.members[a]].Period.Less(bills[g.members[b]].Period)
		})
		out[i] = *g
	}
	return out
}
