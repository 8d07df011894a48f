package source

import (
	"bufio"
	"bytes"
	"os"
	"regexp"
	"strings"

	"github.com/das-developers/das2py-server-sub000/config"
	"github.com/das-developers/das2py-server-sub000/errors"
)

// dsdfEntry is one key = value line. Keys written key_NN carry the two
// digit index separately.
type dsdfEntry struct {
	key   string
	index string
	value string
	line  int
}

type dsdfFile struct {
	path    string
	entries []dsdfEntry
}

var indexedKey = regexp.MustCompile(`^(.+)_([0-9]{2})$`)

// parseDSDF reads the line-oriented legacy format: key = value pairs, ';'
// comments outside quotes and '$' line continuations.
func parseDSDF(path string, data []byte) (*dsdfFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.WithKind(errors.KindServer, errors.ErrEmptyFile, "source file %s", path)
	}
	f := &dsdfFile{path: path}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), config.MaxFileSize)
	var pending strings.Builder
	pendingLine, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(stripDSDFComment(sc.Text()))
		if pending.Len() == 0 {
			pendingLine = lineNo
		}
		if strings.HasSuffix(line, "$") {
			pending.WriteString(strings.TrimSpace(strings.TrimSuffix(line, "$")))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(line)
		full := strings.TrimSpace(pending.String())
		pending.Reset()
		if full == "" {
			continue
		}
		e, err := parseDSDFLine(full)
		if err != nil {
			return nil, errors.WithKind(errors.KindServer, errors.ErrParsingFailed, "%s:%d: %v", path, pendingLine, err)
		}
		e.line = pendingLine
		f.entries = append(f.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "reading %s", path)
	}
	if pending.Len() > 0 {
		return nil, errors.Server("%s: continuation at end of file", path)
	}
	return f, nil
}

func parseDSDFLine(line string) (dsdfEntry, error) {
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return dsdfEntry{}, errors.New("expected key = value")
	}
	key := strings.TrimSpace(line[:eq])
	if strings.ContainsAny(key, " \t") {
		return dsdfEntry{}, errors.New("whitespace in key " + key)
	}
	e := dsdfEntry{key: key, value: unquote(strings.TrimSpace(line[eq+1:]))}
	if m := indexedKey.FindStringSubmatch(key); m != nil {
		e.key, e.index = m[1], m[2]
	}
	return e, nil
}

func stripDSDFComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ';':
			return line[:i]
		}
	}
	return line
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// get returns the last value of an unindexed key, case-insensitively.
func (f *dsdfFile) get(key string) (string, bool) {
	val, found := "", false
	for _, e := range f.entries {
		if e.index == "" && strings.EqualFold(e.key, key) {
			val, found = e.value, true
		}
	}
	return val, found
}

// indexed returns the values of key_NN entries in file order.
func (f *dsdfFile) indexed(key string) []dsdfEntry {
	var out []dsdfEntry
	for _, e := range f.entries {
		if e.index != "" && strings.EqualFold(e.key, key) {
			out = append(out, e)
		}
	}
	return out
}

func (f *dsdfFile) properties() []Property {
	props := make([]Property, 0, len(f.entries))
	for _, e := range f.entries {
		k := e.key
		if e.index != "" {
			k += "_" + e.index
		}
		props = append(props, Property{Key: k, Value: e.value})
	}
	return props
}

func readDSDF(path string) (*dsdfFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "cannot stat %s", path)
	}
	if info.Size() == 0 {
		return nil, errors.WithKind(errors.KindServer, errors.ErrEmptyFile, "source file %s", path)
	}
	data, err := config.ReadLimited(path)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "cannot read %s", path)
	}
	return parseDSDF(path, data)
}
