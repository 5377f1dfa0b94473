// Package idgen provides the process-unique ids that correlate the start and
// the end of a timing interval.
package idgen

import (
	"strconv"
	"sync/atomic"
)

// ID is a unique identifier represented as a uint64. The zero ID is never
// generated and stands for "no id".
type ID uint64

// None is the absent ID.
const None ID = 0

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Generator produces unique identifiers.
type Generator interface {
	Generate() ID
}

// New returns a sequential generator whose first emitted ID is "1". The
// generator cannot be rewound; ids are never reused for the lifetime of the
// generator.
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(atomic.AddUint64(&g.next, 1))
}
