package source

import (
	"sort"
	"strconv"
	"strings"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
)

// Calling conventions.
const (
	ConventionDas2 = "das2"
	ConventionDas3 = "das3"
	ConventionHAPI = "hapi"
)

// builtinTranslate rewrites foreign keys onto native ones. An empty target
// drops the key.
var builtinTranslate = map[string]map[string]string{
	ConventionDas2: {
		"start_time": KeyTimeMin,
		"end_time":   KeyTimeMax,
		"resolution": KeyResolution,
		"interval":   KeyInterval,
		"params":     KeyOptions,
		"server":     "",
		"dataset":    "",
	},
	ConventionHAPI: {
		"time.min":   KeyTimeMin,
		"time.max":   KeyTimeMax,
		"start":      KeyTimeMin,
		"stop":       KeyTimeMax,
		"parameters": KeySelect,
		"format":     KeyFormatType,
		"id":         "",
		"dataset":    "",
	},
}

var injectionPatterns = []string{";", "|", "../", `..\`, `:\`, ">", "<", "&", "$", "`", "\n", "\r"}

// Prepare runs the request parameter pipeline for a convention: empty
// values are dropped and the rest trimmed, per-convention defaults are
// inserted, foreign keys are rewritten to native ones and every value is
// screened for shell metacharacters.
func (d *SourceDef) Prepare(convention string, form map[string]string) (map[string]string, error) {
	params := make(map[string]string, len(form))
	for k, v := range form {
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		params[k] = v
	}

	for k, v := range d.Defaults[convention] {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}

	table := make(map[string]string)
	for k, v := range builtinTranslate[convention] {
		table[k] = v
	}
	for k, v := range d.Translate[convention] {
		table[k] = v
	}
	foreign := make([]string, 0, len(table))
	for k := range table {
		foreign = append(foreign, k)
	}
	sort.Strings(foreign)
	for _, k := range foreign {
		v, ok := params[k]
		if !ok {
			continue
		}
		delete(params, k)
		if target := table[k]; target != "" {
			params[target] = v
		}
	}

	if err := ScreenInjection(params); err != nil {
		return nil, err
	}
	return params, nil
}

// ScreenInjection rejects values that could escape a shell command line.
func ScreenInjection(params map[string]string) error {
	keys := sortedKeys(params)
	for _, k := range keys {
		v := params[k]
		for _, pat := range injectionPatterns {
			if strings.Contains(v, pat) || strings.Contains(k, pat) {
				return errors.Query("illegal character sequence %q in parameter %s", pat, k)
			}
		}
	}
	return nil
}

// Validate checks params against the declared HTTP parameters and returns a
// copy with flag sets re-emitted in declaration order. Undeclared keys pass
// through unchanged.
func (d *SourceDef) Validate(params map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, name := range sortedKeys(d.Protocol.HTTPParams) {
		p := d.Protocol.HTTPParams[name]
		v, ok := out[name]
		if !ok {
			if p.Required {
				return nil, errors.Query("missing required parameter %s", name)
			}
			continue
		}
		canon, err := p.check(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = canon
	}
	return out, nil
}

func (p *HTTPParam) check(name, v string) (string, error) {
	switch p.Type {
	case ParamISOTime:
		if _, err := dastime.Parse(v); err != nil {
			return "", errors.Query("parameter %s: %q is not a valid time", name, v)
		}
	case ParamReal:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", errors.Query("parameter %s: %q is not a number", name, v)
		}
		if err := p.checkRange(name, f); err != nil {
			return "", err
		}
	case ParamInteger:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", errors.Query("parameter %s: %q is not an integer", name, v)
		}
		if err := p.checkRange(name, float64(n)); err != nil {
			return "", err
		}
	case ParamEnum:
		for _, e := range p.Enum {
			if e == v {
				return v, nil
			}
		}
		return "", errors.Query("parameter %s: %q is not one of %s", name, v, strings.Join(p.Enum, ", "))
	case ParamBoolean:
		switch strings.ToLower(v) {
		case "true", "false", "1", "0", "yes", "no":
		default:
			return "", errors.Query("parameter %s: %q is not a boolean", name, v)
		}
	case ParamFlagSet:
		return p.checkFlags(name, v)
	}
	return v, nil
}

func (p *HTTPParam) checkRange(name string, f float64) error {
	if len(p.Range) != 2 {
		return nil
	}
	if f < p.Range[0] || f > p.Range[1] {
		return errors.Query("parameter %s: %v outside [%v, %v]", name, f, p.Range[0], p.Range[1])
	}
	return nil
}

func (p *HTTPParam) separator() string {
	if p.FlagSep == "" {
		return " "
	}
	return p.FlagSep
}

func (p *HTTPParam) split(v string) []string {
	sep := p.separator()
	if strings.TrimSpace(sep) == "" {
		return strings.Fields(v)
	}
	var out []string
	for _, tok := range strings.Split(v, sep) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// checkFlags validates each token and re-emits the set in flag order.
// Flags with a prefix take an argument appended to the prefix.
func (p *HTTPParam) checkFlags(name, v string) (string, error) {
	chosen := make(map[int]string)
	for _, tok := range p.split(v) {
		idx, emit := -1, ""
		for i, f := range p.Flags {
			if f.Prefix != "" && strings.HasPrefix(tok, f.Prefix) {
				arg := tok[len(f.Prefix):]
				if err := checkFlagArg(f, arg); err != nil {
					return "", errors.Query("parameter %s: option %s: %v", name, f.Name, err)
				}
				idx, emit = i, tok
				break
			}
			if tok == f.Name || (f.Value != "" && tok == f.Value) {
				idx, emit = i, f.Value
				if emit == "" {
					emit = f.Name
				}
				break
			}
		}
		if idx < 0 {
			return "", errors.Query("parameter %s: unknown option %q", name, tok)
		}
		chosen[idx] = emit
	}

	parts := make([]string, 0, len(chosen))
	for i := range p.Flags {
		if emit, ok := chosen[i]; ok {
			parts = append(parts, emit)
		}
	}
	return strings.Join(parts, p.separator()), nil
}

func checkFlagArg(f Flag, arg string) error {
	switch ParamType(f.Type) {
	case ParamReal:
		if _, err := strconv.ParseFloat(arg, 64); err != nil {
			return errors.New("expected a number")
		}
	case ParamInteger:
		if _, err := strconv.ParseInt(arg, 10, 64); err != nil {
			return errors.New("expected an integer")
		}
	case ParamISOTime:
		if _, err := dastime.Parse(arg); err != nil {
			return errors.New("expected a time")
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
