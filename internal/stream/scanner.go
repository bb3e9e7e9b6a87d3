// Package stream extracts records from a response body that arrives as a
// sequence of fixed-size chunks, holding at most two chunks in memory.
//
// A record is described by an ordered list of stages. Stage k is only tried
// once stage k-1 has matched, and each stage matches at most once per record.
// The scanner searches a window made of the previous and the current chunk, so
// any occurrence no longer than one chunk is found even when it straddles a
// chunk boundary.
package stream

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
)

var (
	errChunkSize = errors.New("stream: chunk size must be positive")
	errNoStages  = errors.New("stream: at least one stage is required")
)

// Stage is one step of a record match. When Field is set, the first capture
// group (or the whole match when the pattern has no groups) is stored in the
// record under that name.
type Stage struct {
	Field   string
	Pattern *regexp.Regexp
}

// Field is a named value captured by a stage.
type Field struct {
	Name  string
	Value string
}

// Record is the set of fields captured once every stage has matched.
type Record struct {
	Fields []Field
}

// Get returns the value captured for name.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Scanner is an immutable scan configuration; it may be reused for many
// responses, one at a time or concurrently.
type Scanner struct {
	chunkSize   int
	stages      []Stage
	leadRestart bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLeadRestart discards a partially assembled record when the first
// stage's pattern shows up again before the next pending stage matches.
// Useful when some records in a feed lack a later stage.
func WithLeadRestart() Option {
	return func(s *Scanner) { s.leadRestart = true }
}

// NewScanner validates the stage list. chunkSize must be at least as long as
// any single occurrence of any stage pattern in the source data; longer
// occurrences are not guaranteed to be found.
func NewScanner(chunkSize int, stages []Stage, opts ...Option) (*Scanner, error) {
	if chunkSize <= 0 {
		return nil, errChunkSize
	}
	if len(stages) == 0 {
		return nil, errNoStages
	}
	for i, st := range stages {
		if st.Pattern == nil {
			return nil, fmt.Errorf("stream: stage %d has no pattern", i)
		}
		if st.Pattern.MatchString("") {
			return nil, fmt.Errorf("stream: stage %d pattern %q matches the empty string", i, st.Pattern)
		}
	}
	s := &Scanner{
		chunkSize: chunkSize,
		stages:    append([]Stage(nil), stages...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ChunkSize returns the configured chunk size.
func (s *Scanner) ChunkSize() int { return s.chunkSize }

// Scan consumes chunks and yields records in the order they complete. The
// consumer may stop early, which also stops reading chunks. Chunks longer than
// the chunk size are split; a chunk shorter than the chunk size is treated as
// the end of the stream.
func (s *Scanner) Scan(chunks iter.Seq[[]byte]) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		w := newWindow(s.chunkSize)
		a := newAssembly(len(s.stages))
		for chunk := range chunks {
			for len(chunk) > s.chunkSize {
				w.push(chunk[:s.chunkSize])
				if !s.advance(w, a, yield) {
					return
				}
				chunk = chunk[s.chunkSize:]
			}
			w.push(chunk)
			if !s.advance(w, a, yield) {
				return
			}
			if w.terminal {
				return
			}
		}
		// A body that ends on a chunk boundary never delivered a short chunk;
		// flush so that matches held back at the right edge are accepted.
		w.push(nil)
		s.advance(w, a, yield)
	}
}

// advance runs the pending stages against the current window. It returns
// false when the consumer asked to stop.
func (s *Scanner) advance(w *window, a *assembly, yield func(Record) bool) bool {
	lo, hi := w.bounds()
	for {
		from := max(lo, w.rel(a.cursor))
		stage := s.stages[a.next]
		m, ok := w.find(stage.Pattern, from, hi)

		if s.leadRestart && a.next > 0 {
			lead, found := w.find(s.stages[0].Pattern, from, hi)
			if found && (!ok || lead.start < m.start) {
				a.reset()
				a.satisfy(s.stages[0], lead.value, w.abs(lead.end))
				continue
			}
		}
		if !ok {
			return true
		}

		a.satisfy(stage, m.value, w.abs(m.end))
		if a.complete() {
			if !yield(a.take()) {
				return false
			}
		}
	}
}

// assembly is the per-scan record being built.
type assembly struct {
	satisfied []bool
	next      int
	fields    []Field
	cursor    int64
}

func newAssembly(n int) *assembly {
	return &assembly{satisfied: make([]bool, n)}
}

func (a *assembly) satisfy(st Stage, value string, end int64) {
	a.satisfied[a.next] = true
	a.next++
	a.cursor = end
	if st.Field != "" {
		a.fields = append(a.fields, Field{Name: st.Field, Value: value})
	}
}

func (a *assembly) complete() bool { return a.next == len(a.satisfied) }

func (a *assembly) take() Record {
	rec := Record{Fields: a.fields}
	a.reset()
	return rec
}

func (a *assembly) reset() {
	clear(a.satisfied)
	a.next = 0
	a.fields = nil
}
