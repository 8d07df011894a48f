package source

import (
	"encoding/json"
	"net/mail"
	"strings"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/errors"
)

// Native parameter names.
const (
	KeyTimeMin    = "read.time.min"
	KeyTimeMax    = "read.time.max"
	KeyInterval   = "read.time.int"
	KeyResolution = "bin.time.max"
	KeyOptions    = "read.opts"
	KeySelect     = "select.params"
	KeyFormatType = "format.type"
)

// DefaultReducer bins das2 streams when a dsdf names no reducer.
const DefaultReducer = "das2_bin_avgsec"

const (
	readerOrder  = 10
	reducerOrder = 20
)

// synthesize fans a legacy key/value file out into a SourceDef.
func synthesize(f *dsdfFile, localID string) (*SourceDef, error) {
	reader, ok := f.get("reader")
	if !ok || strings.TrimSpace(reader) == "" {
		return nil, errors.Server("%s: no reader defined", f.path)
	}

	def := &SourceDef{
		LocalID: localID,
		Label:   lastSegment(localID),
		Format:  FormatDSDF,
		Legacy:  f.properties(),
	}
	def.Title, _ = f.get("description")
	def.Server, _ = f.get("server")
	def.Hidden = truthy(f, "hidden")
	for _, c := range []struct{ key, typ string }{{"techContact", "technical"}, {"sciContact", "scientific"}} {
		if v, ok := f.get(c.key); ok && v != "" {
			def.Contacts = append(def.Contacts, parseContact(c.typ, v))
		}
	}

	out := Mime{Type: streamType(f)}

	interval := truthy(f, "requiresInterval")
	readTmpl := strings.TrimSpace(reader)
	if interval {
		readTmpl += " #[" + KeyInterval + "]"
	}
	readTmpl += " #[" + KeyTimeMin + "] #[" + KeyTimeMax + "]"
	if !truthy(f, "dropParams") {
		readTmpl += " #[" + KeyOptions + "##]"
	}
	def.Commands = append(def.Commands, &Command{
		Label:    "reader",
		Order:    readerOrder,
		Template: Template(readTmpl),
		Output:   out,
	})

	reducer, hasReducer := f.get("reducer")
	if !hasReducer && out.Type == MimeDas2Binary && !interval {
		reducer, hasReducer = DefaultReducer, true
	}
	if hasReducer && strings.TrimSpace(reducer) != "" {
		in := out
		def.Commands = append(def.Commands, &Command{
			Label:    "reducer",
			Order:    reducerOrder,
			Template: Template(strings.TrimSpace(reducer) + " #[" + KeyResolution + "]"),
			Triggers: []Trigger{{Key: KeyResolution}},
			Input:    &in,
			Output:   out,
		})
	}

	def.Protocol = Protocol{
		Convention: "das2",
		HTTPParams: map[string]*HTTPParam{
			KeyTimeMin:    {Type: ParamISOTime, Required: true, Description: "Minimum time value to stream"},
			KeyTimeMax:    {Type: ParamISOTime, Required: true, Description: "Maximum time value to stream"},
			KeyResolution: {Type: ParamReal, Description: "Maximum width of output bins in seconds"},
		},
	}
	if interval {
		def.Protocol.HTTPParams[KeyInterval] = &HTTPParam{Type: ParamReal, Required: true, Description: "Sample interval in seconds"}
	}
	if flags := synthesizeFlags(f); len(flags) > 0 {
		def.Protocol.HTTPParams[KeyOptions] = &HTTPParam{Type: ParamFlagSet, Flags: flags, FlagSep: " "}
	} else {
		def.Protocol.HTTPParams[KeyOptions] = &HTTPParam{Type: ParamString, Description: "Reader options"}
	}

	if access, ok := f.get("readAccess"); ok && access != "" {
		authz, err := parseReadAccess(access)
		if err != nil {
			return nil, errors.WithKind(errors.KindServer, err, "%s: readAccess", f.path)
		}
		def.Authorization = authz
		def.Protocol.AuthRequired = true
		def.Protocol.AuthRealm, _ = f.get("securityRealm")
	}

	cache, err := synthesizeCache(f, out)
	if err != nil {
		return nil, err
	}
	def.Cache = cache

	def.FileNamingRules = []NamingRule{
		{Function: "echo", Args: []string{def.Label}},
		{Function: "isorange"},
		{Function: "timeres", Args: []string{"#[" + KeyResolution + "##]"}},
	}

	iface, err := synthesizeInterface(f)
	if err != nil {
		return nil, err
	}
	def.Interface = iface
	return def, nil
}

func synthesizeFlags(f *dsdfFile) FlagSet {
	var flags FlagSet
	for _, e := range f.indexed("param") {
		name, desc, _ := strings.Cut(e.value, "|")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		flags = append(flags, Flag{Name: name, Value: name, Description: strings.TrimSpace(desc)})
	}
	return flags
}

// synthesizeCache reads cacheLevel_NN = "<resolution> | <block size>".
func synthesizeCache(f *dsdfFile, mime Mime) (*CacheDef, error) {
	levels := f.indexed("cacheLevel")
	if len(levels) == 0 {
		return nil, nil
	}
	cache := &CacheDef{
		Mime:           mime,
		MinCoordParams: []string{KeyTimeMin},
		MaxCoordParams: []string{KeyTimeMax},
		BlockSets:      make(map[string]*BlockSet, len(levels)),
	}
	for _, e := range levels {
		resText, sizeText, ok := strings.Cut(e.value, "|")
		if !ok {
			return nil, errors.Server("%s:%d: cacheLevel needs 'resolution | block size'", f.path, e.line)
		}
		res, err := dastime.ParseResolution(resText)
		if err != nil {
			return nil, errors.WithKind(errors.KindServer, err, "%s:%d", f.path, e.line)
		}
		bs := &BlockSet{BlockSize: strings.TrimSpace(sizeText)}
		if res > 0 {
			bs.Resolution = strings.TrimSpace(resText)
			bs.ResolutionParams = []string{KeyResolution}
		}
		cache.BlockSets[dastime.FormatResolution(res)] = bs
	}
	return cache, nil
}

func parseReadAccess(v string) (*Authorization, error) {
	authz := &Authorization{}
	for _, part := range strings.Split(v, "|") {
		part = strings.TrimSpace(part)
		kind, name, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.New("expected GROUP:name or USER:name, got " + part)
		}
		name = strings.TrimSpace(name)
		switch strings.ToUpper(strings.TrimSpace(kind)) {
		case "GROUP":
			authz.UserInGroup = append(authz.UserInGroup, name)
		case "USER":
			authz.UserIs = append(authz.UserIs, name)
		default:
			return nil, errors.New("unknown access class " + kind)
		}
	}
	return authz, nil
}

type exampleRange struct {
	Label string `json:"label,omitempty"`
	Min   string `json:"read.time.min"`
	Max   string `json:"read.time.max"`
}

func splitRange(v string) (string, string, string, bool) {
	span, label, _ := strings.Cut(v, "|")
	lo, hi, ok := strings.Cut(span, " to ")
	if !ok {
		return "", "", "", false
	}
	return strings.TrimSpace(lo), strings.TrimSpace(hi), strings.TrimSpace(label), true
}

func synthesizeInterface(f *dsdfFile) (json.RawMessage, error) {
	iface := map[string]any{}
	var examples []exampleRange
	for _, e := range f.indexed("exampleRange") {
		lo, hi, label, ok := splitRange(e.value)
		if !ok {
			return nil, errors.Server("%s:%d: exampleRange needs 'begin to end'", f.path, e.line)
		}
		examples = append(examples, exampleRange{Label: label, Min: lo, Max: hi})
	}
	if len(examples) > 0 {
		iface["examples"] = examples
	}
	if v, ok := f.get("validRange"); ok {
		lo, hi, _, ok := splitRange(v)
		if !ok {
			return nil, errors.Server("%s: validRange needs 'begin to end'", f.path)
		}
		iface["coords"] = map[string]any{"time": map[string]any{"validRange": []string{lo, hi}}}
	}
	if len(iface) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(iface)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "%s: interface", f.path)
	}
	return raw, nil
}

func parseContact(typ, v string) Contact {
	if addr, err := mail.ParseAddress(v); err == nil {
		return Contact{Type: typ, Name: addr.Name, Email: addr.Address}
	}
	return Contact{Type: typ, Name: strings.TrimSpace(v)}
}

// streamType picks the reader output from qstream and das2Stream. A
// das2Stream value of "text" selects the text das2 variant.
func streamType(f *dsdfFile) string {
	if truthy(f, "qstream") {
		return MimeQStream
	}
	if v, ok := f.get("das2Stream"); ok && strings.EqualFold(strings.TrimSpace(v), "text") {
		return MimeDas2Text
	}
	return MimeDas2Binary
}

func truthy(f *dsdfFile, key string) bool {
	v, ok := f.get(key)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func lastSegment(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}
