// Package id provides pluggable generators for unique identifiers used on
// envelopes, snapshots and consumers.
package id

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// UUID generates RFC 4122 v4 identifiers.
	UUID Generator = uuidGen{}
	// NanoID generates URL-safe nanoid identifiers (21 chars).
	NanoID Generator = nanoidGen{}
)

// Generator produces unique random identifiers.
type Generator interface {
	New() string
}

type uuidGen struct{}

func (uuidGen) New() string { return uuid.New().String() }

type nanoidGen struct{}

func (nanoidGen) New() string { return gonanoid.Must() }

// Func adapts a plain function to a Generator.
type Func func() string

func (f Func) New() string { return f() }
