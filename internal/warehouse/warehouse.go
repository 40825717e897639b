// Package warehouse loads tables into, and reads them back from, the
// analytical store. Every column is stored as nullable text.
package warehouse

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultChunkSize is the number of rows sent per write call.
const DefaultChunkSize = 500000

// Mode decides what happens to an existing destination table.
type Mode int

const (
	Append Mode = iota
	Replace
)

func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "append"
}

var ErrInvalidName = errors.New("invalid table name")

// Name is a dataset-qualified table name such as "yellow_trips_data.rides".
type Name struct {
	Dataset string
	Table   string
}

// ParseName splits "dataset.table".
func ParseName(s string) (Name, error) {
	dataset, tbl, ok := strings.Cut(s, ".")
	if !ok || dataset == "" || tbl == "" || strings.Contains(tbl, ".") {
		return Name{}, fmt.Errorf("%w: %q (want dataset.table)", ErrInvalidName, s)
	}
	return Name{Dataset: dataset, Table: tbl}, nil
}

func (n Name) String() string {
	return n.Dataset + "." + n.Table
}

func chunks(total, size int) [][2]int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][2]int
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		out = append(out, [2]int{start, end})
	}
	return out
}
