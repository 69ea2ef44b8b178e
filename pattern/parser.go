package pattern

import (
	"fmt"

	cerrors "github.com/chef-project/containerv/errors"
)

type tokenKind int

const (
	literalKind tokenKind = iota
	wildcardSingleKind
	wildcardMultiKind
	wildcardRecursiveKind
	charsetKind
	rangeKind
)

type tokenSpec struct {
	kind     tokenKind
	b        byte
	bitmap   [4]uint64
	start    byte
	end      byte
	modifier Modifier
}

// parseGlob performs the single left-to-right pass described for the
// pattern language: literal bytes, '?' / '*' / '**' wildcards, '[...]'
// charset/range expressions, and a single trailing quantifier per token.
func parseGlob(glob string, caseInsensitive bool) ([]tokenSpec, error) {
	var specs []tokenSpec
	pos := 0
	n := len(glob)

	for pos < n {
		c := glob[pos]
		var spec tokenSpec

		switch {
		case c == '*':
			if pos+1 < n && glob[pos+1] == '*' {
				if pos+2 < n && glob[pos+2] != '/' {
					return nil, cerrors.WrapWithDetail(cerrors.ErrInvalidQuantifier, cerrors.InvalidPattern,
						"parse", fmt.Sprintf("%q: ** must be followed by end-of-pattern or '/'", glob))
				}
				spec = tokenSpec{kind: wildcardRecursiveKind}
				pos += 2
			} else {
				spec = tokenSpec{kind: wildcardMultiKind}
				pos++
			}

		case c == '?':
			spec = tokenSpec{kind: wildcardSingleKind}
			pos++

		case c == '[':
			end := indexByte(glob, pos+1, ']')
			if end < 0 {
				return nil, cerrors.WrapWithDetail(cerrors.ErrUnterminatedCharset, cerrors.InvalidPattern,
					"parse", fmt.Sprintf("%q", glob))
			}
			body := glob[pos+1 : end]
			if body == "" {
				return nil, cerrors.WrapWithDetail(cerrors.ErrUnterminatedCharset, cerrors.InvalidPattern,
					"parse", fmt.Sprintf("%q: empty charset", glob))
			}
			if len(body) == 3 && body[1] == '-' {
				if body[0] > body[2] {
					return nil, cerrors.WrapWithDetail(nil, cerrors.InvalidPattern,
						"parse", fmt.Sprintf("%q: range start %q exceeds end %q", glob, body[0], body[2]))
				}
				spec = tokenSpec{kind: rangeKind, start: body[0], end: body[2]}
			} else {
				bitmap, err := parseCharset(body)
				if err != nil {
					return nil, err
				}
				spec = tokenSpec{kind: charsetKind, bitmap: bitmap}
			}
			pos = end + 1

		default:
			b := c
			if caseInsensitive {
				b = toLower(b)
			}
			spec = tokenSpec{kind: literalKind, b: b}
			pos++
		}

		// A single trailing quantifier attaches to the token just produced.
		if pos < n {
			switch glob[pos] {
			case '?':
				spec.modifier = ModOptional
				pos++
			case '+':
				spec.modifier = ModOneOrMore
				pos++
			case '*':
				// A "**" here is the next token, the recursive wildcard.
				if pos+1 < n && glob[pos+1] == '*' {
					break
				}
				spec.modifier = ModZeroOrMore
				pos++
			}
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

// parseCharset expands a bracket body (possibly containing embedded
// ranges, e.g. "a-zA-Z0-9_") into a 256-bit membership bitmap.
func parseCharset(body string) ([4]uint64, error) {
	var bitmap [4]uint64
	set := func(b byte) { bitmap[b/64] |= 1 << (b % 64) }

	i := 0
	for i < len(body) {
		if i+2 < len(body) && body[i+1] == '-' {
			start, end := body[i], body[i+2]
			if start > end {
				return bitmap, cerrors.WrapWithDetail(nil, cerrors.InvalidPattern,
					"parse", fmt.Sprintf("charset range start %q exceeds end %q", start, end))
			}
			for b := int(start); b <= int(end); b++ {
				set(byte(b))
			}
			i += 3
			continue
		}
		set(body[i])
		i++
	}
	return bitmap, nil
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
