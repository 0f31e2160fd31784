package cmd

import (
	"github.com/fvbommel/sortorder"
)

// StringList can be used to sort a table of strings by column, using natural
// ordering for each cell. Empty strings sort last.
type StringList [][]string

// Len implements sort.Interface.
func (a StringList) Len() int {
	return len(a)
}

// Swap implements sort.Interface.
func (a StringList) Swap(i, j int) {
	a[i], a[j] = a[j], a[i]
}

// Less implements sort.Interface.
func (a StringList) Less(i, j int) bool {
	x := 0
	for x = range a[i] {
		if a[i][x] != a[j][x] {
			break
		}
	}

	if a[i][x] == "" {
		return false
	}

	if a[j][x] == "" {
		return true
	}

	return sortorder.NaturalLess(a[i][x], a[j][x])
}
