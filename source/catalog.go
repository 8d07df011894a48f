package source

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/das-developers/das2py-server-sub000/errors"
)

// Catalog file names under the catalog directory.
const (
	CatalogJSON  = "catalog.json"
	CatalogNodes = "nodes.csv"
	CatalogDas2  = "das2list.txt"
)

// CatalogEntry is one listed source.
type CatalogEntry struct {
	LocalID string `json:"localId"`
	Label   string `json:"label,omitempty"`
	Title   string `json:"title,omitempty"`
	Format  Format `json:"format"`
	// Server is set for sources owned by another host.
	Server string `json:"server,omitempty"`
}

// Catalog is the aggregated listing of every visible source.
type Catalog struct {
	Entries []CatalogEntry `json:"sources"`
	// Skipped counts definitions that failed to load.
	Skipped int `json:"-"`
}

// BuildCatalog walks the loader root. Hidden sources are left out and
// broken definitions are logged and skipped.
func BuildCatalog(l *Loader) (*Catalog, error) {
	cat := &Catalog{}
	err := l.Walk(func(e Entry) error {
		def, err := l.LoadEntry(e, nil)
		if url, remote := errors.RedirectURL(err); remote {
			cat.Entries = append(cat.Entries, CatalogEntry{LocalID: e.LocalID, Format: e.Format, Server: url})
			return nil
		}
		if err != nil {
			cat.Skipped++
			l.logger.Warn("Skipping source in catalog", "source", e.LocalID, "error", err)
			return nil
		}
		if def.Hidden {
			return nil
		}
		cat.Entries = append(cat.Entries, CatalogEntry{
			LocalID: def.LocalID,
			Label:   def.Label,
			Title:   def.Title,
			Format:  def.Format,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// WriteJSON writes catalog.json.
func (c *Catalog) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// WriteNodesCSV writes nodes.csv: one row per source with a header.
func (c *Catalog) WriteNodesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"localId", "label", "title", "format", "server"}); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if err := cw.Write([]string{e.LocalID, e.Label, e.Title, string(e.Format), e.Server}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDas2List writes das2list.txt: "localId|title" per line, local
// sources only.
func (c *Catalog) WriteDas2List(w io.Writer) error {
	for _, e := range c.Entries {
		if e.Server != "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s|%s\n", e.LocalID, e.Title); err != nil {
			return err
		}
	}
	return nil
}

// WriteFiles writes all catalog files into dir, each through a temporary
// file renamed into place.
func (c *Catalog) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithKind(errors.KindServer, err, "creating catalog directory")
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{CatalogJSON, c.WriteJSON},
		{CatalogNodes, c.WriteNodesCSV},
		{CatalogDas2, c.WriteDas2List},
	}
	for _, f := range files {
		if err := writeAtomic(filepath.Join(dir, f.name), f.write); err != nil {
			return errors.WithKind(errors.KindServer, err, "writing %s", f.name)
		}
	}
	return nil
}

// WriteByName renders the catalog file called name to w.
func (c *Catalog) WriteByName(name string, w io.Writer) error {
	switch name {
	case CatalogJSON:
		return c.WriteJSON(w)
	case CatalogNodes:
		return c.WriteNodesCSV(w)
	case CatalogDas2:
		return c.WriteDas2List(w)
	}
	return errors.NotFound("no catalog named %s", name)
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteFileAtomic writes data to path through a temporary file.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
