package markup

import (
	"unicode"
	"unicode/utf16"
)

// Split breaks header+footer into parts of at most limit UTF-16 units, keeping the
// footer at the end of the first part.
func Split(header, footer string, limit int) []Part {
	return SplitLimits(header, footer, limit, limit)
}

// SplitLimits is Split with separate budgets for the first part and the parts after it.
// Parts may exceed their budget only when no boundary outside an entity exists.
func SplitLimits(header, footer string, first, rest int) []Part {
	h := Parse(header)
	f := Parse(footer)

	budget := first - f.Len()
	if h.Len() <= budget {
		return []Part{Concat(h, f)}
	}

	head, tail := cut(h, budget)
	parts := []Part{Concat(head, f)}
	if tail.Text == "" {
		return parts
	}
	return append(parts, SplitPart(tail, rest)...)
}

// SplitPart breaks a parsed part into pieces of at most limit UTF-16 units.
func SplitPart(p Part, limit int) []Part {
	var parts []Part
	for p.Len() > limit {
		head, tail := cut(p, limit)
		parts = append(parts, head)
		p = tail
	}
	if p.Text != "" || len(parts) == 0 {
		parts = append(parts, p)
	}
	return parts
}

// cut splits p at the best boundary at or before budget. Without one it falls back to
// the first boundary after budget, or keeps p whole.
func cut(p Part, budget int) (Part, Part) {
	units := utf16.Encode([]rune(p.Text))
	if budget > len(units) {
		budget = len(units)
	}

	at := bestBoundary(units, p.Entities, budget)
	if at <= 0 {
		at = firstBoundaryAfter(units, p.Entities, budget)
	}
	if at <= 0 || at >= len(units) {
		return p, Part{}
	}

	head := Part{Text: string(utf16.Decode(units[:at]))}
	tail := Part{Text: string(utf16.Decode(units[at:]))}
	for _, e := range p.Entities {
		if e.End() <= at {
			head.Entities = append(head.Entities, e)
			continue
		}
		e.Offset -= at
		tail.Entities = append(tail.Entities, e)
	}
	return head, tail
}

var separators = []func(rune) bool{
	func(r rune) bool { return r == '\n' },
	unicode.IsSpace,
	func(r rune) bool { return r == '.' },
	func(rune) bool { return true },
}

func bestBoundary(units []uint16, entities []Entity, budget int) int {
	for _, isSep := range separators {
		for at := budget; at > 0; at-- {
			if !canCut(units, entities, at) {
				continue
			}
			if isSep(rune(units[at-1])) {
				return at
			}
		}
	}
	return 0
}

func firstBoundaryAfter(units []uint16, entities []Entity, budget int) int {
	for at := budget + 1; at < len(units); at++ {
		if canCut(units, entities, at) {
			return at
		}
	}
	return 0
}

func canCut(units []uint16, entities []Entity, at int) bool {
	if at <= 0 || at >= len(units) {
		return false
	}
	if isLowSurrogate(units[at]) {
		return false
	}
	for _, e := range entities {
		if e.Offset < at && at < e.End() {
			return false
		}
	}
	return true
}

func isLowSurrogate(u uint16) bool {
	return u >= 0xDC00 && u <= 0xDFFF
}
