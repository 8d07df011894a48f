package source

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// Entry is a resolved node of the source tree.
type Entry struct {
	LocalID string
	Path    string
	Dir     bool
	Format  Format
}

// Loader reads source definitions below a root directory.
type Loader struct {
	root       string
	includeDir string
	siteURL    string
	vars       map[string]string
	logger     *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithVars supplies server variables used by $(NAME) references.
func WithVars(vars map[string]string) LoaderOption {
	return func(l *Loader) {
		l.vars = vars
	}
}

// WithSiteURL names this server; sources whose server key names another
// host load as RemoteServer errors.
func WithSiteURL(u string) LoaderOption {
	return func(l *Loader) {
		l.siteURL = u
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader for root. includeDir is searched for $include
// files after the including file's own directory.
func NewLoader(root, includeDir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:       root,
		includeDir: includeDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "source-loader")
	return l
}

// Root returns the source root directory.
func (l *Loader) Root() string {
	return l.root
}

func splitID(id string) ([]string, error) {
	id = strings.Trim(filepath.ToSlash(id), "/")
	if id == "" {
		return nil, nil
	}
	segs := strings.Split(id, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "_") {
			return nil, errors.NotFound("invalid source path %q", id)
		}
	}
	return segs, nil
}

// findFold returns the directory entry of dir matching name
// case-insensitively, preferring an exact match.
func findFold(dir, name string, wantDir bool) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	found := ""
	for _, e := range entries {
		if e.IsDir() != wantDir || !strings.EqualFold(e.Name(), name) {
			continue
		}
		if e.Name() == name {
			return name, true
		}
		if found == "" {
			found = e.Name()
		}
	}
	return found, found != ""
}

// Resolve maps a case-insensitive id onto the on-disk entry. Definition
// files win over directories of the same name and json wins over dsdf.
func (l *Loader) Resolve(id string) (Entry, error) {
	segs, err := splitID(id)
	if err != nil {
		return Entry{}, err
	}
	if len(segs) == 0 {
		return Entry{Path: l.root, Dir: true}, nil
	}

	dir := l.root
	canonical := make([]string, 0, len(segs))
	for _, seg := range segs[:len(segs)-1] {
		name, ok := findFold(dir, seg, true)
		if !ok {
			return Entry{}, errors.NotFound("no data source %s", id)
		}
		canonical = append(canonical, name)
		dir = filepath.Join(dir, name)
	}

	last := segs[len(segs)-1]
	for _, format := range []Format{FormatJSON, FormatDSDF} {
		if name, ok := findFold(dir, last+"."+string(format), false); ok {
			canonical = append(canonical, strings.TrimSuffix(name, filepath.Ext(name)))
			return Entry{
				LocalID: strings.Join(canonical, "/"),
				Path:    filepath.Join(dir, name),
				Format:  format,
			}, nil
		}
	}
	if name, ok := findFold(dir, last, true); ok {
		canonical = append(canonical, name)
		return Entry{LocalID: strings.Join(canonical, "/"), Path: filepath.Join(dir, name), Dir: true}, nil
	}
	return Entry{}, errors.NotFound("no data source %s", id)
}

// Load resolves and loads a source definition without request parameters.
func (l *Loader) Load(id string) (*SourceDef, error) {
	return l.LoadParams(id, nil)
}

// LoadParams resolves and loads a source definition. params are visible to
// $(NAME) references in legacy descriptors.
func (l *Loader) LoadParams(id string, params map[string]string) (*SourceDef, error) {
	entry, err := l.Resolve(id)
	if err != nil {
		return nil, err
	}
	if entry.Dir {
		return nil, errors.NotFound("%s is a directory, not a data source", entry.LocalID)
	}
	return l.LoadEntry(entry, params)
}

// LoadEntry loads a resolved definition file.
func (l *Loader) LoadEntry(entry Entry, params map[string]string) (*SourceDef, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return nil, errors.NotFound("no data source %s", entry.LocalID)
	}

	var def *SourceDef
	switch entry.Format {
	case FormatJSON:
		def, err = l.loadJSON(entry.Path)
	case FormatDSDF:
		def, err = l.loadDSDF(entry, params)
	default:
		err = errors.Server("unknown definition format for %s", entry.Path)
	}
	if err != nil {
		return nil, err
	}

	def.LocalID = entry.LocalID
	def.Path = entry.Path
	def.ModTime = info.ModTime()
	def.Format = entry.Format

	if def.Server != "" && !l.isLocal(def.Server) {
		return nil, errors.RemoteServer(strings.TrimRight(def.Server, "/"),
			"data source %s is served by %s", def.LocalID, def.Server)
	}
	if err := def.Compile(); err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "invalid definition %s", entry.Path)
	}
	l.logger.Debug("Loaded source", "source", def.LocalID, "format", def.Format, "commands", len(def.Commands))
	return def, nil
}

func (l *Loader) loadDSDF(entry Entry, params map[string]string) (*SourceDef, error) {
	f, err := readDSDF(entry.Path)
	if err != nil {
		return nil, err
	}
	if err := substituteVars(f, params, l.vars); err != nil {
		return nil, err
	}
	return synthesize(f, entry.LocalID)
}

func (l *Loader) isLocal(server string) bool {
	if l.siteURL == "" {
		return false
	}
	a, errA := url.Parse(server)
	b, errB := url.Parse(l.siteURL)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimRight(server, "/"), strings.TrimRight(l.siteURL, "/"))
	}
	return strings.EqualFold(a.Host, b.Host)
}

// List returns the children of a directory id: subdirectories and
// definitions, sorted by name. A json file hides a dsdf of the same name.
func (l *Loader) List(id string) ([]Entry, error) {
	dirEntry, err := l.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !dirEntry.Dir {
		return nil, errors.NotFound("%s is not a directory", dirEntry.LocalID)
	}
	entries, err := os.ReadDir(dirEntry.Path)
	if err != nil {
		return nil, errors.WithKind(errors.KindServer, err, "listing %s", dirEntry.LocalID)
	}

	var out []Entry
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		child := Entry{Path: filepath.Join(dirEntry.Path, name)}
		stem := name
		if e.IsDir() {
			child.Dir = true
		} else {
			ext := filepath.Ext(name)
			switch strings.ToLower(ext) {
			case ".json":
				child.Format = FormatJSON
			case ".dsdf":
				child.Format = FormatDSDF
			default:
				continue
			}
			stem = strings.TrimSuffix(name, ext)
		}
		child.LocalID = joinID(dirEntry.LocalID, stem)
		out = append(out, child)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].LocalID), strings.ToLower(out[j].LocalID)
		if a != b {
			return a < b
		}
		return entryRank(out[i]) < entryRank(out[j])
	})
	return dedupeFormats(out), nil
}

func entryRank(e Entry) int {
	switch {
	case e.Dir:
		return 2
	case e.Format == FormatJSON:
		return 0
	default:
		return 1
	}
}

// dedupeFormats drops a dsdf listed right after a json of the same id.
func dedupeFormats(entries []Entry) []Entry {
	out := entries[:0]
	for i, e := range entries {
		if i > 0 && !e.Dir && !entries[i-1].Dir && strings.EqualFold(entries[i-1].LocalID, e.LocalID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Walk calls fn for every definition file below the root in lexical order.
func (l *Loader) Walk(fn func(Entry) error) error {
	return l.walkDir("", fn)
}

func (l *Loader) walkDir(id string, fn func(Entry) error) error {
	entries, err := l.List(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Dir {
			if err := l.walkDir(e.LocalID, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func joinID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
