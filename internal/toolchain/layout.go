package toolchain

import (
	"fmt"
	"sort"
	"strings"
)

// LayoutNMv1 is the metal-nm symbol dump layout: "<address> <type> <name>".
const LayoutNMv1 = "nm-v1"

// Layout is the whitespace-delimited field layout of one symbol dump format.
// It is versioned with the toolchain release that prints it.
type Layout struct {
	Name         string
	AddressField int
	NameField    int
	MinFields    int
}

var layouts = map[string]Layout{
	LayoutNMv1: {Name: LayoutNMv1, AddressField: 0, NameField: 2, MinFields: 3},
}

// Layout returns the symbol layout selected by SymbolLayout.
func (tc *Toolchain) Layout() (Layout, error) {
	l, ok := layouts[tc.SymbolLayout]
	if !ok {
		known := make([]string, 0, len(layouts))
		for name := range layouts {
			known = append(known, name)
		}
		sort.Strings(known)
		return Layout{}, fmt.Errorf("toolchain: unknown symbol_layout %q (known: %s)", tc.SymbolLayout, strings.Join(known, ", "))
	}
	return l, nil
}
