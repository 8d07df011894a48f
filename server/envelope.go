package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/source"
)

// envelope is the body format errors are rendered in.
type envelope int

const (
	envJSON envelope = iota
	envDas2
	envDas3
	envHTML
)

// envelopeFor picks the error body format of a convention. Browsers get
// HTML whatever endpoint they hit.
func envelopeFor(r *http.Request, convention string) envelope {
	if wantsHTML(r) {
		return envHTML
	}
	switch convention {
	case source.ConventionDas2:
		return envDas2
	case source.ConventionDas3:
		return envDas3
	default:
		return envJSON
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

type errorBody struct {
	Error  string `json:"error"`
	Type   string `json:"type"`
	Status int    `json:"status"`
}

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Status}} {{.Type}}</title></head>
<body>
<h1>{{.Status}} {{.Type}}</h1>
<p>{{.Error}}</p>
</body>
</html>
`))

// writeError renders err. Remote sources are redirected when redirects are
// enabled and reported as not found otherwise. Server errors are logged
// in full; unclassified ones reach the client without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, env envelope, err error) {
	if target, ok := errors.RedirectURL(err); ok {
		if s.redirect {
			http.Redirect(w, r, strings.TrimRight(target, "/")+r.URL.RequestURI(), http.StatusMovedPermanently)
			return
		}
		err = errors.NotFound("%s", errors.Message(err))
	}

	kind := errors.KindOf(err)
	status := errors.HTTPStatus(err)
	msg := errors.Message(err)
	if kind == errors.KindServer {
		s.logger.Error("Request failed", "request_id", infoFrom(r.Context()).id, "path", r.URL.Path, "error", err)
		var kinded *errors.Error
		if !errors.As(err, &kinded) {
			msg = "Internal server error"
		}
	}

	hdr := w.Header()
	executor.SetCORS(hdr, s.allowOrigin)
	body := errorBody{Error: msg, Type: kind.String(), Status: status}
	switch env {
	case envDas2:
		hdr.Set("Content-Type", source.MimeDas2Text)
		w.WriteHeader(status)
		_, _ = w.Write(executor.Das2Exception(kind, msg))
	case envDas3:
		hdr.Set("Content-Type", source.MimeDas3Text)
		w.WriteHeader(status)
		_, _ = w.Write(executor.Das3Exception(kind, msg))
	case envHTML:
		hdr.Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = errorPage.Execute(w, body)
	default:
		hdr.Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
