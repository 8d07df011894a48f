package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/health"
	"github.com/das-developers/das2py-server-sub000/source"
)

// Per-source endpoints below /source/<id>/.
const (
	actionData    = "data"
	actionFlex    = "flex.json"
	actionDSDF    = "dsdf.d2t"
	actionForm    = "form.html"
	actionListing = ""
)

// splitAction separates a source id from a trailing endpoint name. Paths
// ending in a slash, or without a known endpoint, name a directory.
func splitAction(rest string) (id, action string) {
	if rest == "" || strings.HasSuffix(rest, "/") {
		return strings.Trim(rest, "/"), actionListing
	}
	i := strings.LastIndexByte(rest, '/')
	switch last := rest[i+1:]; last {
	case actionData, actionFlex, actionDSDF, actionForm:
		if i < 0 {
			return "", last
		}
		return rest[:i], last
	}
	return strings.Trim(rest, "/"), actionListing
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	id, action := splitAction(strings.TrimPrefix(r.URL.Path, "/source/"))
	if id == "" && action != actionListing {
		s.writeError(w, r, envelopeFor(r, ""), errors.NotFound("no source named in %s", r.URL.Path))
		return
	}
	switch action {
	case actionData:
		s.serveData(w, r, source.ConventionDas3, id, collectForm(r))
	case actionFlex:
		s.serveFlex(w, r, id)
	case actionDSDF:
		s.serveStreamHeader(w, r, id)
	case actionForm:
		s.serveForm(w, r, id)
	default:
		s.serveListing(w, r, id)
	}
}

func (s *Server) load(r *http.Request, id string) (*source.SourceDef, error) {
	def, err := s.loader.Load(id)
	if err != nil {
		return nil, err
	}
	infoFrom(r.Context()).source = def.LocalID
	return def, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("Encoding response failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	executor.SetCORS(w.Header(), s.allowOrigin)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// serveFlex emits the client-facing section of a definition.
func (s *Server) serveFlex(w http.ResponseWriter, r *http.Request, id string) {
	def, err := s.load(r, id)
	if err != nil {
		s.writeError(w, r, envelopeFor(r, ""), err)
		return
	}
	s.writeJSON(w, http.StatusOK, def.External())
}

// serveStreamHeader emits the legacy das2 header packet of a definition.
func (s *Server) serveStreamHeader(w http.ResponseWriter, r *http.Request, id string) {
	def, err := s.load(r, id)
	if err != nil {
		s.writeError(w, r, envelopeFor(r, source.ConventionDas2), err)
		return
	}
	executor.SetCORS(w.Header(), s.allowOrigin)
	w.Header().Set("Content-Type", source.MimeDas2Text)
	_, _ = w.Write(def.StreamHeader())
}

type listingEntry struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	URL    string `json:"url"`
}

type listing struct {
	Path    string         `json:"path"`
	Entries []listingEntry `json:"entries"`
}

// serveListing emits the children of a source directory as JSON, or as a
// page for browsers.
func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := s.loader.List(id)
	if err != nil {
		s.writeError(w, r, envelopeFor(r, ""), err)
		return
	}
	out := listing{Path: id, Entries: make([]listingEntry, 0, len(entries))}
	for _, e := range entries {
		if !e.Dir {
			// broken and remote definitions stay listed
			if def, err := s.loader.LoadEntry(e, nil); err == nil && def.Hidden {
				continue
			}
		}
		le := listingEntry{ID: e.LocalID}
		if e.Dir {
			le.Type = "directory"
			le.URL = "/source/" + e.LocalID + "/"
		} else {
			le.Type = "source"
			le.Format = string(e.Format)
			le.URL = "/source/" + e.LocalID + "/" + actionFlex
		}
		out.Entries = append(out.Entries, le)
	}

	if !wantsHTML(r) {
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	executor.SetCORS(w.Header(), s.allowOrigin)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listingPage.Execute(w, out); err != nil {
		s.logger.Warn("Rendering listing failed", "path", id, "error", err)
	}
}

// serveForm renders a query form from the definition's interface and
// declared parameters.
func (s *Server) serveForm(w http.ResponseWriter, r *http.Request, id string) {
	def, err := s.load(r, id)
	if err != nil {
		s.writeError(w, r, envHTML, err)
		return
	}
	page, err := newFormPage(def)
	if err != nil {
		s.writeError(w, r, envHTML, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := formPage.Execute(w, page); err != nil {
		s.logger.Warn("Rendering form failed", "source", def.LocalID, "error", err)
	}
}

var catalogTypes = map[string]string{
	source.CatalogJSON:  "application/json",
	source.CatalogNodes: "text/csv; charset=utf-8",
	source.CatalogDas2:  "text/plain; charset=utf-8",
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.serveCatalog(w, r, strings.TrimPrefix(r.URL.Path, "/"))
}

// serveCatalog sends the catalog file written by the last LIST_REFRESH
// job, building it on the fly when none exists yet.
func (s *Server) serveCatalog(w http.ResponseWriter, r *http.Request, name string) {
	ctype, ok := catalogTypes[name]
	if !ok {
		s.writeError(w, r, envelopeFor(r, ""), errors.NotFound("no catalog %s", name))
		return
	}
	executor.SetCORS(w.Header(), s.allowOrigin)
	w.Header().Set("Content-Type", ctype)

	if s.catalogDir != "" {
		path := filepath.Join(s.catalogDir, name)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			http.ServeFile(w, r, path)
			return
		}
	}
	cat, err := source.BuildCatalog(s.loader)
	if err != nil {
		s.writeError(w, r, envelopeFor(r, ""), err)
		return
	}
	if err := cat.WriteByName(name, w); err != nil {
		s.logger.Warn("Writing catalog failed", "catalog", name, "error", err)
	}
}

type healthBody struct {
	Status     string          `json:"status"`
	Broker     string          `json:"broker"`
	Components []health.Status `json:"components"`
}

// handleHealth answers 503 only when a dependency is unhealthy; a degraded
// server still answers data requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Check(r.Context())
	body := healthBody{Status: "ok", Broker: "none", Components: st.SubStatuses}
	if !st.IsHealthy() {
		body.Status = st.Status
	}
	if s.broker != nil {
		body.Broker, _ = s.broker()
	}
	status := http.StatusOK
	if st.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, r, envelopeFor(r, ""), errors.NotFound("no such endpoint %s", r.URL.Path))
		return
	}
	s.serveListing(w, r, "")
}
