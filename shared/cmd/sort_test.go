package cmd

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringListNaturalOrder(t *testing.T) {
	data := [][]string{
		{"vm10", "Running"},
		{"vm2", "Halted"},
		{"vm1", "Running"},
	}

	sort.Sort(StringList(data))

	assert.Equal(t, [][]string{
		{"vm1", "Running"},
		{"vm2", "Halted"},
		{"vm10", "Running"},
	}, data)
}

func TestStringListEmptyLast(t *testing.T) {
	data := [][]string{
		{"", "x"},
		{"b", "y"},
		{"a", "z"},
	}

	sort.Sort(StringList(data))

	assert.Equal(t, [][]string{
		{"a", "z"},
		{"b", "y"},
		{"", "x"},
	}, data)
}

func TestStringListTieBreakOnLaterColumn(t *testing.T) {
	data := [][]string{
		{"same", "b"},
		{"same", "a"},
	}

	sort.Sort(StringList(data))

	assert.Equal(t, [][]string{
		{"same", "a"},
		{"same", "b"},
	}, data)
}
