package source

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/das-developers/das2py-server-sub000/config"
	"github.com/das-developers/das2py-server-sub000/errors"
)

const (
	maxIncludeDepth    = 12
	maxIncludesPerNode = 12
	includeKey         = "$include"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func definitionSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// StripComments removes // comments outside of string literals.
func StripComments(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		b := data[i]
		if inString {
			out = append(out, b)
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		if b == '"' {
			inString = true
			out = append(out, b)
			continue
		}
		if b == '/' && i+1 < len(data) && data[i+1] == '/' {
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

// readJSONObject reads a commented json document into an ordered object.
func readJSONObject(path string) (*object, error) {
	data, err := config.ReadLimited(path)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "cannot read %s", path)
	}
	data = StripComments(data)
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.WithKind(errors.KindServer, errors.ErrEmptyFile, "source file %s", path)
	}
	if err := config.ValidateJSONDepth(data); err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "source file %s", path)
	}
	v, err := decodeOrdered(data)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, errors.ErrParsingFailed, "syntax error in %s: %v", path, err)
	}
	obj, ok := v.(*object)
	if !ok {
		return nil, errors.Server("source file %s is not a json object", path)
	}
	return obj, nil
}

// resolveIncludes merges the files named by $include keys into obj. Keys
// already present in the including object win over included ones.
func (l *Loader) resolveIncludes(obj *object, dir string, depth int) error {
	if depth > maxIncludeDepth {
		return errors.WithKind(errors.KindServer, errors.ErrIncludeDepth, "more than %d nested includes under %s", maxIncludeDepth, dir)
	}

	if raw, ok := obj.get(includeKey); ok {
		obj.del(includeKey)
		names, err := includeNames(raw)
		if err != nil {
			return errors.WithKind(errors.KindServer, err, "bad %s in %s", includeKey, dir)
		}
		if len(names) > maxIncludesPerNode {
			return errors.Server("%d includes in one object under %s, limit is %d", len(names), dir, maxIncludesPerNode)
		}
		for _, name := range names {
			path, err := l.findInclude(dir, name)
			if err != nil {
				return err
			}
			inc, err := readJSONObject(path)
			if err != nil {
				return err
			}
			if err := l.resolveIncludes(inc, filepath.Dir(path), depth+1); err != nil {
				return err
			}
			mergeMissing(obj, inc)
		}
	}

	for _, k := range append([]string(nil), obj.keys...) {
		if child, ok := obj.vals[k].(*object); ok {
			if err := l.resolveIncludes(child, dir, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func includeNames(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			names = append(names, s)
		}
		return names, nil
	default:
		return nil, fmt.Errorf("include must be a filename or list of filenames")
	}
}

// findInclude searches the including file's directory, then the include
// directory.
func (l *Loader) findInclude(dir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(filepath.ToSlash(name), "..") {
		return "", errors.Server("include %q escapes the include path", name)
	}
	for _, base := range []string{dir, l.includeDir} {
		if base == "" {
			continue
		}
		path := filepath.Join(base, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", errors.Server("include file %s not found in %s or %s", name, dir, l.includeDir)
}

func mergeMissing(dst, src *object) {
	for _, k := range src.keys {
		sv := src.vals[k]
		dv, ok := dst.get(k)
		if !ok {
			dst.set(k, sv)
			continue
		}
		dm, dok := dv.(*object)
		sm, sok := sv.(*object)
		if dok && sok {
			mergeMissing(dm, sm)
		}
	}
}

func validateDocument(doc *object, path string) error {
	s, err := definitionSchema()
	if err != nil {
		return errors.WithKind(errors.KindServer, err, "source schema")
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(plain(doc)))
	if err != nil {
		return errors.WithKind(errors.KindServer, err, "validating %s", path)
	}
	if result.Valid() {
		return nil
	}
	var b strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", desc.Field(), desc.Description())
	}
	return errors.WithKind(errors.KindServer, errors.ErrInvalidData, "%s does not match the source schema: %s", path, b.String())
}

// loadJSON reads, merges, validates and decodes a native definition.
func (l *Loader) loadJSON(path string) (*SourceDef, error) {
	doc, err := readJSONObject(path)
	if err != nil {
		return nil, err
	}
	if err := l.resolveIncludes(doc, filepath.Dir(path), 0); err != nil {
		return nil, err
	}
	if err := validateDocument(doc, path); err != nil {
		return nil, err
	}
	var merged bytes.Buffer
	if err := encodeOrdered(&merged, doc); err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "re-encoding %s", path)
	}
	var def SourceDef
	if err := json.Unmarshal(merged.Bytes(), &def); err != nil {
		return nil, errors.WithKind(errors.KindServer, errors.ErrParsingFailed, "decoding %s: %v", path, err)
	}
	def.Format = FormatJSON
	return &def, nil
}
