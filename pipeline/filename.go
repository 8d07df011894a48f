package pipeline

import (
	"sort"
	"strings"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
	"github.com/das-developers/das2py-server-sub000/template"
)

// NoParams stands in for an empty option string in cache keys.
const NoParams = "_noparams_"

// NormalizeOptions canonicalizes an option string: dashes become
// underscores, whitespace separated tokens are sorted and joined with
// underscores. The empty string maps to NoParams.
func NormalizeOptions(opts string) string {
	if opts == NoParams {
		return opts
	}
	tokens := strings.Fields(strings.ReplaceAll(opts, "-", "_"))
	if len(tokens) == 0 {
		return NoParams
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "_")
}

// IsoRange renders a time range as a compact token.
func IsoRange(params map[string]string) (string, bool) {
	lo, okLo := params[source.KeyTimeMin]
	hi, okHi := params[source.KeyTimeMax]
	if !okLo || !okHi {
		return "", false
	}
	begin, err := dastime.Parse(lo)
	if err != nil {
		return "", false
	}
	end, err := dastime.Parse(hi)
	if err != nil {
		return "", false
	}
	return dastime.Compact(begin) + "_" + dastime.Compact(end), true
}

// DefaultFilename builds the download name for a response of type output.
// Without naming rules the source label and time range are used.
func DefaultFilename(def *source.SourceDef, params map[string]string, output source.Mime) (string, error) {
	rules := def.FileNamingRules
	if len(rules) == 0 {
		label := def.Label
		if label == "" {
			label = def.LocalID[strings.LastIndexByte(def.LocalID, '/')+1:]
		}
		rules = []source.NamingRule{{Function: "echo", Args: []string{label}}, {Function: "isorange"}}
	}

	var parts []string
	for _, rule := range rules {
		switch rule.Function {
		case "echo":
			for _, arg := range rule.Args {
				v, err := expandArg(arg, params)
				if err != nil {
					return "", err
				}
				if v != "" {
					parts = append(parts, v)
				}
			}
		case "isorange":
			if v, ok := IsoRange(params); ok {
				parts = append(parts, v)
			}
		case "normparams":
			key := source.KeyOptions
			if len(rule.Args) > 0 {
				key = rule.Args[0]
			}
			if opts := strings.TrimSpace(params[key]); opts != "" {
				parts = append(parts, NormalizeOptions(opts))
			}
		case "timeres":
			for _, arg := range rule.Args {
				v, err := expandArg(arg, params)
				if err != nil {
					return "", err
				}
				if v == "" {
					continue
				}
				sec, err := dastime.ParseResolution(v)
				if err != nil {
					return "", err
				}
				if sec > 0 {
					parts = append(parts, dastime.FormatResolution(sec))
				}
			}
		default:
			return "", errors.Server("%s: unknown file naming function %q", def.LocalID, rule.Function)
		}
	}

	name := sanitizeFilename(strings.Join(parts, "_"))
	if name == "" {
		name = "dasflex"
	}
	return name + "." + output.Ext(), nil
}

func expandArg(arg string, params map[string]string) (string, error) {
	t, err := template.Compile(arg)
	if err != nil {
		return "", err
	}
	v, err := t.Expand(params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ' ', ':', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
