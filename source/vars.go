package source

import (
	"os"
	"regexp"
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// varRef matches $(NAME) and $(NAME,default).
var varRef = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_.]*)(?:,([^)]*))?\)`)

// varScope resolves $(NAME) references. Lookup order is THIS_FILE, keys of
// the same file, request parameters, server variables, the process
// environment and finally the default given in the reference.
type varScope struct {
	file   *dsdfFile
	params map[string]string
	vars   map[string]string

	resolved map[string]string
	state    map[string]int
}

const (
	unvisited = iota
	visiting
	done
)

// substituteVars rewrites every value of f in place. Same-file references
// are resolved depth first, so each key is expanded after the keys it
// names; a reference back onto the current path is a cycle.
func substituteVars(f *dsdfFile, params, vars map[string]string) error {
	s := &varScope{
		file:     f,
		params:   params,
		vars:     vars,
		resolved: make(map[string]string),
		state:    make(map[string]int),
	}
	for i := range f.entries {
		v, err := s.expand(f.entries[i].value, nil)
		if err != nil {
			return errors.WithKind(errors.KindServer, err, "%s:%d", f.path, f.entries[i].line)
		}
		f.entries[i].value = v
	}
	return nil
}

func (s *varScope) expand(value string, path []string) (string, error) {
	var firstErr error
	out := varRef.ReplaceAllStringFunc(value, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		m := varRef.FindStringSubmatch(ref)
		name, def := m[1], m[2]
		hasDefault := strings.Contains(ref, ",")
		v, err := s.lookup(name, path)
		if err == nil {
			return v
		}
		if errors.Is(err, errNoVar) && hasDefault {
			return def
		}
		firstErr = err
		return ref
	})
	return out, firstErr
}

var errNoVar = errors.New("undefined variable")

func (s *varScope) lookup(name string, path []string) (string, error) {
	if name == "THIS_FILE" {
		return s.file.path, nil
	}
	if _, ok := s.file.get(name); ok {
		return s.fileKey(name, path)
	}
	if v, ok := s.params[name]; ok {
		return v, nil
	}
	if v, ok := s.vars[name]; ok {
		return v, nil
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", errors.WithKind(errors.KindServer, errNoVar, "variable %s is not defined", name)
}

func (s *varScope) fileKey(name string, path []string) (string, error) {
	key := strings.ToLower(name)
	switch s.state[key] {
	case done:
		return s.resolved[key], nil
	case visiting:
		return "", errors.WithKind(errors.KindServer, errors.ErrVariableCycle,
			"%s", strings.Join(append(path, name), " -> "))
	}
	s.state[key] = visiting
	raw, _ := s.file.get(name)
	v, err := s.expand(raw, append(path, name))
	if err != nil {
		return "", err
	}
	s.state[key] = done
	s.resolved[key] = v
	return v, nil
}
