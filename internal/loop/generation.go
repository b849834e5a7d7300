package loop

// Generation tags asynchronous requests so that completions of superseded
// requests can be recognised and dropped. It is loop-confined.
type Generation struct {
	n uint64
}

// Next starts a new generation and returns its tag.
func (g *Generation) Next() uint64 {
	g.n++
	return g.n
}

// Current returns the latest tag.
func (g *Generation) Current() uint64 {
	return g.n
}

// IsCurrent reports whether tag still identifies the latest request.
func (g *Generation) IsCurrent(tag uint64) bool {
	return tag == g.n
}

// Invalidate makes every outstanding tag stale.
func (g *Generation) Invalidate() {
	g.n++
}
