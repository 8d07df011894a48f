package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/template"
)

// Format identifies the on-disk descriptor a SourceDef was built from.
type Format string

const (
	FormatJSON Format = "json"
	FormatDSDF Format = "dsdf"
)

// SourceDef is the loaded definition of one data source.
type SourceDef struct {
	LocalID         string                       `json:"localId"`
	Label           string                       `json:"label,omitempty"`
	Title           string                       `json:"title,omitempty"`
	Contacts        []Contact                    `json:"contacts,omitempty"`
	Protocol        Protocol                     `json:"protocol"`
	Interface       json.RawMessage              `json:"interface,omitempty"`
	Commands        []*Command                   `json:"commands"`
	Translate       map[string]map[string]string `json:"translate,omitempty"`
	Defaults        map[string]map[string]string `json:"defaults,omitempty"`
	Cache           *CacheDef                    `json:"cache,omitempty"`
	Authorization   *Authorization               `json:"authorization,omitempty"`
	FileNamingRules []NamingRule                 `json:"fileNamingRules,omitempty"`
	// Server names the host owning the source when it is not this one.
	Server string `json:"server,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`

	// Path is the descriptor file the definition was loaded from.
	Path    string    `json:"-"`
	ModTime time.Time `json:"-"`
	Format  Format    `json:"-"`
	// Legacy holds the substituted key/values of a dsdf descriptor.
	Legacy []Property `json:"-"`
}

// Contact is a person responsible for a source.
type Contact struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Protocol is the external calling surface of a source.
type Protocol struct {
	Convention   string                `json:"convention,omitempty"`
	BaseURLs     []string              `json:"baseUrls,omitempty"`
	AuthRequired bool                  `json:"authRequired,omitempty"`
	AuthRealm    string                `json:"authRealm,omitempty"`
	HTTPParams   map[string]*HTTPParam `json:"httpParams,omitempty"`
}

// ParamType is the value type of an HTTP parameter.
type ParamType string

const (
	ParamISOTime ParamType = "isotime"
	ParamReal    ParamType = "real"
	ParamInteger ParamType = "integer"
	ParamString  ParamType = "string"
	ParamEnum    ParamType = "enum"
	ParamFlagSet ParamType = "flag_set"
	ParamBoolean ParamType = "boolean"
)

// HTTPParam constrains one query parameter.
type HTTPParam struct {
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Range       []float64 `json:"range,omitempty"`
	Flags       FlagSet   `json:"flags,omitempty"`
	FlagSep     string    `json:"flagSep,omitempty"`
}

// Flag is one member of a flag_set parameter.
type Flag struct {
	Name        string `json:"-"`
	Value       string `json:"value"`
	Prefix      string `json:"prefix,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// FlagSet is an ordered flag mapping. Document order defines emission
// order, so it decodes from a json object without going through a map.
type FlagSet []Flag

// UnmarshalJSON implements json.Unmarshaler.
func (fs *FlagSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("flags: expected object")
	}
	var out FlagSet
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var f Flag
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("flag %s: %w", name, err)
		}
		f.Name = name
		out = append(out, f)
	}
	*fs = out
	return nil
}

// MarshalJSON implements json.Marshaler, keeping flag order.
func (fs FlagSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		body, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Lookup finds a flag by name or by its emitted value.
func (fs FlagSet) Lookup(token string) (Flag, bool) {
	for _, f := range fs {
		if f.Name == token || (f.Value != "" && f.Value == token) {
			return f, true
		}
	}
	return Flag{}, false
}

// Scalar is a string that also decodes from json numbers and booleans.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	switch string(data) {
	case "null":
		*s = ""
		return nil
	case "true", "false":
		*s = Scalar(data)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("scalar: unsupported value %s", data)
	}
	*s = Scalar(data)
	return nil
}

// Template is command text given either as a string or as a list of
// strings joined by spaces.
type Template string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Template) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Template(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("template: expected string or list of strings")
	}
	*t = Template(strings.Join(parts, " "))
	return nil
}

// Compare is a trigger comparison operator.
type Compare string

const (
	CompareEq Compare = "eq"
	CompareGt Compare = "gt"
	CompareGe Compare = "ge"
	CompareLt Compare = "lt"
	CompareLe Compare = "le"
)

// Trigger is a predicate on the parameter map.
type Trigger struct {
	Key     string  `json:"key"`
	Value   *Scalar `json:"value,omitempty"`
	Compare Compare `json:"compare,omitempty"`
}

// Command is one stage of a source's pipeline graph.
type Command struct {
	Label    string    `json:"label,omitempty"`
	Order    int       `json:"order"`
	Template Template  `json:"template"`
	Triggers []Trigger `json:"triggers,omitempty"`
	// Input is nil for upstream sources (readers).
	Input  *Mime `json:"input,omitempty"`
	Output Mime  `json:"output"`

	compiled *template.Template
}

// Compiled returns the template compiled at load time.
func (c *Command) Compiled() *template.Template {
	return c.compiled
}

// IsReader reports whether the command is an upstream source.
func (c *Command) IsReader() bool {
	return c.Input == nil
}

func (c *Command) name() string {
	if c.Label != "" {
		return c.Label
	}
	return fmt.Sprintf("order %d", c.Order)
}

// CacheDef describes the pre-computed blocks kept for a source.
type CacheDef struct {
	Mime           Mime                 `json:"mime"`
	MinCoordParams []string             `json:"minCoordParams"`
	MaxCoordParams []string             `json:"maxCoordParams"`
	BlockSets      map[string]*BlockSet `json:"blockSets"`
}

// BlockSet is a family of cache blocks sharing a size and resolution.
type BlockSet struct {
	BlockSize string `json:"blockSize"`
	// Resolution is a number with unit ("60 s"); empty means intrinsic.
	Resolution       string            `json:"resolution,omitempty"`
	ResolutionParams []string          `json:"resolutionParams,omitempty"`
	FixedParams      map[string]Scalar `json:"fixedParams,omitempty"`

	unit   dastime.Unit
	resSec float64
}

// Unit returns the parsed block size.
func (b *BlockSet) Unit() dastime.Unit {
	return b.unit
}

// ResolutionSeconds returns the block resolution, 0 for intrinsic data.
func (b *BlockSet) ResolutionSeconds() float64 {
	return b.resSec
}

func (b *BlockSet) compile() error {
	u, err := dastime.ParseUnit(b.BlockSize)
	if err != nil {
		return err
	}
	res, err := dastime.ParseResolution(b.Resolution)
	if err != nil {
		return err
	}
	b.unit, b.resSec = u, res
	return nil
}

// Authorization holds declarative access rules.
type Authorization struct {
	UserInGroup []string    `json:"user_in_group,omitempty"`
	UserIs      []string    `json:"user_is,omitempty"`
	Params      []ParamRule `json:"params,omitempty"`
}

// ParamRule gates access on the age of the data requested: values of Key
// newer than MaxAge before now require an authorized user.
type ParamRule struct {
	Key    string `json:"key"`
	MaxAge string `json:"max_age"`
}

// NamingRule is one step of default download filename construction.
type NamingRule struct {
	Function string   `json:"function"`
	Args     []string `json:"args,omitempty"`
}

// Property is a single key/value of a legacy descriptor.
type Property struct {
	Key   string
	Value string
}

// ExternalDef is the client-facing part of a definition served as
// flex.json.
type ExternalDef struct {
	LocalID   string          `json:"localId"`
	Label     string          `json:"label,omitempty"`
	Title     string          `json:"title,omitempty"`
	Contacts  []Contact       `json:"contacts,omitempty"`
	Protocol  Protocol        `json:"protocol"`
	Interface json.RawMessage `json:"interface,omitempty"`
}

// External returns the client-facing section of the definition.
func (d *SourceDef) External() ExternalDef {
	return ExternalDef{
		LocalID:   d.LocalID,
		Label:     d.Label,
		Title:     d.Title,
		Contacts:  d.Contacts,
		Protocol:  d.Protocol,
		Interface: d.Interface,
	}
}

// Readers returns the commands with no input.
func (d *SourceDef) Readers() []*Command {
	var out []*Command
	for _, c := range d.Commands {
		if c.IsReader() {
			out = append(out, c)
		}
	}
	return out
}

// Compile checks structural invariants, compiles templates and parses block
// sets. Loaders call it; definitions built in code must call it before use.
func (d *SourceDef) Compile() error {
	if len(d.Commands) == 0 {
		return fmt.Errorf("source %s: no commands", d.LocalID)
	}
	readers := 0
	for _, c := range d.Commands {
		if c.Output.Type == "" {
			return fmt.Errorf("source %s: command %s has no output type", d.LocalID, c.name())
		}
		t, err := template.Compile(string(c.Template))
		if err != nil {
			return fmt.Errorf("source %s: command %s: %w", d.LocalID, c.name(), err)
		}
		c.compiled = t
		if c.IsReader() {
			readers++
		}
		for _, tr := range c.Triggers {
			switch tr.Compare {
			case "", CompareEq, CompareGt, CompareGe, CompareLt, CompareLe:
			default:
				return fmt.Errorf("source %s: command %s: unknown comparison %q", d.LocalID, c.name(), tr.Compare)
			}
		}
	}
	if readers == 0 {
		return fmt.Errorf("source %s: no reader command", d.LocalID)
	}
	if d.Cache != nil {
		if len(d.Cache.BlockSets) == 0 {
			return fmt.Errorf("source %s: cache has no block sets", d.LocalID)
		}
		for level, bs := range d.Cache.BlockSets {
			if err := bs.compile(); err != nil {
				return fmt.Errorf("source %s: block set %s: %w", d.LocalID, level, err)
			}
		}
	}
	for name, p := range d.Protocol.HTTPParams {
		if p.Type == ParamFlagSet && len(p.Flags) == 0 {
			return fmt.Errorf("source %s: flag_set parameter %s has no flags", d.LocalID, name)
		}
	}
	return nil
}
