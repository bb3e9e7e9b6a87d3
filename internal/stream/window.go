package stream

import "regexp"

// window holds the two most recent chunks: old in buf[:size], new in
// buf[size:]. Offsets are tracked in absolute stream positions so that a
// match can be recognised again after it has shifted into the old half.
type window struct {
	buf  []byte
	size int

	oldStart int64
	oldLen   int
	newStart int64
	newLen   int
	terminal bool
}

func newWindow(size int) *window {
	return &window{buf: make([]byte, 2*size), size: size}
}

// push shifts the window left by one chunk and places chunk in the new half.
// A short chunk zero-fills the rest of the new half and marks the window
// terminal.
func (w *window) push(chunk []byte) {
	copy(w.buf[:w.size], w.buf[w.size:])
	w.oldStart, w.oldLen = w.newStart, w.newLen
	w.newStart += int64(w.newLen)

	if len(chunk) == w.size {
		copy(w.buf[w.size:], chunk)
	} else {
		clear(w.buf[w.size:])
		copy(w.buf[w.size:], chunk)
		w.terminal = true
	}
	w.newLen = len(chunk)
}

// bounds returns the searchable region of buf. The old half only joins the
// search when it is full and therefore contiguous with the new half.
func (w *window) bounds() (lo, hi int) {
	lo = w.size
	if w.oldLen == w.size {
		lo = 0
	}
	return lo, w.size + w.newLen
}

func (w *window) abs(rel int) int64 {
	if rel < w.size {
		return w.oldStart + int64(rel)
	}
	return w.newStart + int64(rel-w.size)
}

func (w *window) rel(abs int64) int {
	if abs < w.newStart {
		return int(abs - w.oldStart)
	}
	return int(abs-w.newStart) + w.size
}

type match struct {
	start, end int
	value      string
}

// find searches buf[from:hi]. A match that runs into the right edge of a
// non-terminal window may still be growing; it is left for the next window,
// where it will be whole inside the old half.
func (w *window) find(p *regexp.Regexp, from, hi int) (match, bool) {
	if from >= hi {
		return match{}, false
	}
	loc := p.FindSubmatchIndex(w.buf[from:hi])
	if loc == nil {
		return match{}, false
	}
	m := match{start: from + loc[0], end: from + loc[1]}
	if m.end == hi && !w.terminal && m.start >= w.size {
		return match{}, false
	}
	if len(loc) >= 4 && loc[2] >= 0 {
		m.value = string(w.buf[from+loc[2] : from+loc[3]])
	} else {
		m.value = string(w.buf[m.start:m.end])
	}
	return m, true
}
