// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package parsers turns the text of stealer output files into records.
// Every record kind has an ordered list of dialects that is tried until one
// of them yields results. Parsing never fails: input that no dialect
// understands simply yields no records.
package parsers

import (
	"fmt"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// Outcome describes how a parse went.
type Outcome int

const (
	// OutcomeEmpty means no dialect found any record.
	OutcomeEmpty Outcome = iota
	// OutcomeParsed means a dialect produced at least one record.
	OutcomeParsed
	// OutcomeMalformed means the input was not text or a dialect broke on it.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeParsed:
		return "parsed"
	case OutcomeMalformed:
		return "malformed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Dialect is one concrete file format for records of type T.
type Dialect[T any] interface {
	Name() string
	Parse(text string) []T
}

type dialectFunc[T any] struct {
	name string
	fn   func(string) []T
}

func (d dialectFunc[T]) Name() string          { return d.name }
func (d dialectFunc[T]) Parse(text string) []T { return d.fn(text) }

// NewDialect wraps a parse function as a Dialect.
func NewDialect[T any](name string, fn func(string) []T) Dialect[T] {
	return dialectFunc[T]{name: name, fn: fn}
}

// Result is the output of a Chain.
type Result[T any] struct {
	Records []T
	Dialect string
	Outcome Outcome
}

// Chain tries its dialects in order. In first-match mode the first dialect
// with results wins; in union mode all results are merged and duplicates,
// as identified by the key function, are dropped.
type Chain[T any] struct {
	name     string
	dialects []Dialect[T]
	key      func(T) string
	logger   *log.Entry
}

// NewChain returns a first-match chain.
func NewChain[T any](name string, dialects ...Dialect[T]) *Chain[T] {
	return &Chain[T]{
		name:     name,
		dialects: dialects,
		logger:   log.WithFields(log.Fields{"parser": name}),
	}
}

// NewUnionChain returns a chain that merges the results of all dialects.
func NewUnionChain[T any](name string, key func(T) string, dialects ...Dialect[T]) *Chain[T] {
	c := NewChain(name, dialects...)
	c.key = key
	return c
}

// Dialects lists the dialect names in order.
func (c *Chain[T]) Dialects() []string {
	names := make([]string, 0, len(c.dialects))
	for _, d := range c.dialects {
		names = append(names, d.Name())
	}
	return names
}

func (c *Chain[T]) try(d Dialect[T], text string) (recs []T, broke bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warnf("dialect %s failed: %v", d.Name(), r)
			recs = nil
			broke = true
		}
	}()
	return d.Parse(text), false
}

// Parse runs the chain over text.
func (c *Chain[T]) Parse(text string) Result[T] {
	if !utf8.ValidString(text) {
		c.logger.Debug("input is not valid UTF-8")
		return Result[T]{Outcome: OutcomeMalformed}
	}
	var res Result[T]
	var seen map[string]struct{}
	if c.key != nil {
		seen = make(map[string]struct{})
	}
	broken := false
	for _, d := range c.dialects {
		recs, broke := c.try(d, text)
		if broke {
			broken = true
			continue
		}
		if len(recs) == 0 {
			continue
		}
		if c.key == nil {
			return Result[T]{Records: recs, Dialect: d.Name(), Outcome: OutcomeParsed}
		}
		for _, r := range recs {
			k := c.key(r)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			res.Records = append(res.Records, r)
		}
		if res.Dialect == "" {
			res.Dialect = d.Name()
		}
	}
	switch {
	case len(res.Records) > 0:
		res.Outcome = OutcomeParsed
	case broken:
		res.Outcome = OutcomeMalformed
	default:
		res.Outcome = OutcomeEmpty
	}
	return res
}
