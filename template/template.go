// Package template compiles and expands the #[selector#if-present#if-absent]
// substitution templates used in command definitions.
//
// A region has the form
//
//	#[KEY(SEP|SUBKEY|VALSEP)#IFPRES#IFABS]
//
// where the sub-key clause and both branches are optional. IFPRES defaults to
// "@", which is replaced by the selected value. Without IFABS a missing key is
// a query error; an empty IFABS makes the region optional.
package template

import (
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
)

const defaultIfPresent = "@"

type selector struct {
	key    string
	sep    string
	subKey string
	valSep string
}

func (s selector) name() string {
	if s.subKey == "" {
		return s.key
	}
	return s.key + "(" + s.subKey + ")"
}

// lookup returns the value selected from params.
func (s selector) lookup(params map[string]string) (string, bool) {
	val, ok := params[s.key]
	if !ok {
		return "", false
	}
	if s.subKey == "" {
		return val, true
	}

	var tokens []string
	if strings.TrimSpace(s.sep) == "" {
		tokens = strings.Fields(val)
	} else {
		tokens = strings.Split(val, s.sep)
	}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == s.subKey {
			return s.subKey, true
		}
		if s.valSep != "" && strings.HasPrefix(tok, s.subKey+s.valSep) {
			return tok[len(s.subKey)+len(s.valSep):], true
		}
	}
	return "", false
}

type segment struct {
	literal string

	region   bool
	sel      selector
	ifPres   string
	ifAbs    string
	optional bool
}

// Template is a compiled substitution template. It is immutable and safe for
// concurrent use.
type Template struct {
	src  string
	segs []segment
}

// Compile parses src once into its literal and region segments.
func Compile(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	for {
		i := strings.Index(rest, "#[")
		if i < 0 {
			if rest != "" {
				t.segs = append(t.segs, segment{literal: rest})
			}
			return t, nil
		}
		if i > 0 {
			t.segs = append(t.segs, segment{literal: rest[:i]})
		}
		end := strings.IndexByte(rest[i:], ']')
		if end < 0 {
			return nil, errors.Server("template %q: unterminated substitution at offset %d", src, len(src)-len(rest)+i)
		}
		seg, err := parseRegion(rest[i+2 : i+end])
		if err != nil {
			return nil, errors.WithKind(errors.KindServer, err, "template %q", src)
		}
		t.segs = append(t.segs, seg)
		rest = rest[i+end+1:]
	}
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

func parseRegion(body string) (segment, error) {
	seg := segment{region: true, ifPres: defaultIfPresent}

	selEnd := strings.IndexAny(body, "(#")
	if selEnd < 0 {
		selEnd = len(body)
	}
	seg.sel.key = strings.TrimSpace(body[:selEnd])
	if seg.sel.key == "" {
		return seg, errors.New("empty selector")
	}
	if strings.ContainsAny(seg.sel.key, " \t") {
		return seg, errors.New("whitespace in selector " + seg.sel.key)
	}
	rest := body[selEnd:]

	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return seg, errors.New("unterminated sub-key clause in " + body)
		}
		parts := strings.Split(rest[1:end], "|")
		if len(parts) < 2 || len(parts) > 3 {
			return seg, errors.New("sub-key clause needs SEP|SUBKEY[|VALSEP] in " + body)
		}
		seg.sel.sep = parts[0]
		seg.sel.subKey = strings.TrimSpace(parts[1])
		if seg.sel.subKey == "" {
			return seg, errors.New("empty sub-key in " + body)
		}
		if len(parts) == 3 {
			seg.sel.valSep = parts[2]
		}
		rest = rest[end+1:]
	}

	if rest == "" {
		return seg, nil
	}
	if rest[0] != '#' {
		return seg, errors.New("unexpected text after selector in " + body)
	}
	branches := strings.SplitN(rest[1:], "#", 2)
	if branches[0] != "" {
		seg.ifPres = branches[0]
	}
	if len(branches) == 2 {
		seg.ifAbs = branches[1]
		seg.optional = true
	}
	return seg, nil
}

// Expand substitutes params into the template. A required key missing from
// params is a query error naming the key.
func (t *Template) Expand(params map[string]string) (string, error) {
	var b strings.Builder
	for _, seg := range t.segs {
		if !seg.region {
			b.WriteString(seg.literal)
			continue
		}
		val, ok := seg.sel.lookup(params)
		switch {
		case ok:
			b.WriteString(strings.ReplaceAll(seg.ifPres, "@", val))
		case seg.optional:
			b.WriteString(seg.ifAbs)
		default:
			return "", errors.Query("missing required parameter %s", seg.sel.name())
		}
	}
	return b.String(), nil
}

// Keys returns the parameter keys referenced by the template, in order of
// first appearance.
func (t *Template) Keys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, seg := range t.segs {
		if seg.region && !seen[seg.sel.key] {
			seen[seg.sel.key] = true
			keys = append(keys, seg.sel.key)
		}
	}
	return keys
}

// Required returns the keys whose absence fails expansion.
func (t *Template) Required() []string {
	var keys []string
	for _, seg := range t.segs {
		if seg.region && !seg.optional {
			keys = append(keys, seg.sel.key)
		}
	}
	return keys
}

// String returns the template source.
func (t *Template) String() string {
	return t.src
}

// MarshalText returns the template source.
func (t *Template) MarshalText() ([]byte, error) {
	return []byte(t.src), nil
}
