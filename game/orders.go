package game

import (
	"fmt"
	"sort"
	"strings"
)

// PossibleOrders maps a location to the legal orders for the unit there.
// It is only valid for the phase it was fetched in.
type PossibleOrders map[string][]string

// Restrict keeps the given locations, dropping the ones without any legal order.
func (po PossibleOrders) Restrict(locations []string) PossibleOrders {
	restricted := make(PossibleOrders, len(locations))
	for _, loc := range locations {
		orders, ok := po[loc]
		if !ok || len(orders) == 0 {
			continue
		}
		restricted[loc] = append([]string(nil), orders...)
	}
	return restricted
}

// Locations returns the locations in lexical order.
func (po PossibleOrders) Locations() []string {
	locs := make([]string, 0, len(po))
	for loc := range po {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	return locs
}

// Format renders the orders as prompt text:
//
//	PAR:
//	  - A PAR H
//	  - A PAR - BUR
func (po PossibleOrders) Format() string {
	var sb strings.Builder
	for _, loc := range po.Locations() {
		fmt.Fprintf(&sb, "%s:\n", loc)
		for _, order := range po[loc] {
			fmt.Fprintf(&sb, "  - %s\n", order)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// OrderSet holds the orders chosen by each power for the current phase.
type OrderSet map[Power][]string

// Summary renders the set as a single line in the given power order,
// e.g. "FRANCE: [A PAR H, F BRE - MAO]; ENGLAND: []".
func (os OrderSet) Summary(powers []Power) string {
	parts := make([]string, 0, len(powers))
	for _, p := range powers {
		parts = append(parts, fmt.Sprintf("%s: [%s]", p, strings.Join(os[p], ", ")))
	}
	return strings.Join(parts, "; ")
}

// Count is the total number of orders in the set.
func (os OrderSet) Count() int {
	n := 0
	for _, orders := range os {
		n += len(orders)
	}
	return n
}

// IsOrder reports whether a line looks like an army or fleet order.
func IsOrder(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "A ") || strings.HasPrefix(line, "F ")
}

// FilterOrders keeps the well-formed orders, trimmed, in their original order.
func FilterOrders(lines []string) []string {
	orders := make([]string, 0, len(lines))
	for _, line := range lines {
		if IsOrder(line) {
			orders = append(orders, strings.TrimSpace(line))
		}
	}
	return orders
}
