package bmecat

import (
	"errors"
	"io"
)

// Resource ceilings for one document
const (
	// MaxDocumentSize is the largest accepted document in bytes
	MaxDocumentSize int64 = 100 * 1024 * 1024

	// MaxEntityChars caps the characters a single text run or tag may draw
	// from entity and character references
	MaxEntityChars = 1024
)

var errEntityLimit = errors.New("bmecat: too many characters drawn from entity references")

const cdataOpen = "<![CDATA["

// entityGuard counts references between markup boundaries in the raw byte
// stream. Every predefined or numeric reference expands to one character,
// and no other entities can be declared because DOCTYPE is rejected. An
// ampersand inside a CDATA section is literal text and is not counted.
type entityGuard struct {
	r       io.Reader
	limit   int
	count   int
	inCDATA bool
	// matched is the prefix length of the CDATA opener, or of "]]>" inside
	// a section, seen so far; it carries over between reads
	matched int
}

func newEntityGuard(r io.Reader, limit int) *entityGuard {
	return &entityGuard{r: r, limit: limit}
}

func (g *entityGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	for _, c := range p[:n] {
		if g.inCDATA {
			g.scanCDATA(c)
			continue
		}
		switch {
		case c == '<':
			g.count = 0
			g.matched = 1
			continue
		case g.matched > 0 && c == cdataOpen[g.matched]:
			g.matched++
			if g.matched == len(cdataOpen) {
				g.inCDATA = true
				g.matched = 0
			}
			continue
		}
		g.matched = 0
		if c == '&' {
			g.count++
			if g.count > g.limit {
				return n, errEntityLimit
			}
		}
	}
	return n, err
}

func (g *entityGuard) scanCDATA(c byte) {
	switch {
	case c == ']':
		g.matched = min(g.matched+1, 2)
	case c == '>' && g.matched == 2:
		g.inCDATA = false
		g.matched = 0
	default:
		g.matched = 0
	}
}
