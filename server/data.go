package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/das-developers/das2py-server-sub000/auth"
	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/pipeline"
	"github.com/das-developers/das2py-server-sub000/source"
)

// dataPlan is a request resolved down to the pipeline to run.
type dataPlan struct {
	def      *source.SourceDef
	params   map[string]string
	pipeline *pipeline.Pipeline
	header   executor.Header
}

// collectForm returns the first non-empty value of each query key.
// Values arrive URL-decoded.
func collectForm(r *http.Request) map[string]string {
	q := r.URL.Query()
	form := make(map[string]string, len(q))
	for k, vs := range q {
		for _, v := range vs {
			if strings.TrimSpace(v) != "" {
				form[k] = v
				break
			}
		}
	}
	return form
}

func disposition(m source.Mime) string {
	if strings.HasPrefix(m.Type, "image/") {
		return executor.Inline
	}
	return executor.Attachment
}

// plan runs the parameter pipeline, the access check and the cache lookup.
// challenge, when not nil, receives the basic-auth challenge header for
// protected sources.
func (s *Server) plan(r *http.Request, challenge http.Header, convention, localID string, form map[string]string) (*dataPlan, error) {
	info := infoFrom(r.Context())
	info.convention = convention
	info.source = localID

	// screen before the values can reach dsdf variable substitution
	if err := source.ScreenInjection(form); err != nil {
		return nil, err
	}
	def, err := s.loader.LoadParams(localID, form)
	if err != nil {
		return nil, err
	}
	info.source = def.LocalID

	params, err := def.Prepare(convention, form)
	if err != nil {
		return nil, err
	}
	if params, err = def.Validate(params); err != nil {
		return nil, err
	}

	user, password, present := r.BasicAuth()
	result, err := s.authz.Check(def, params, auth.Credentials{User: user, Password: password, Present: present})
	switch result {
	case auth.OK:
	case auth.AuthRequired:
		if challenge != nil {
			challenge.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", s.authz.Realm(def)))
		}
		return nil, err
	case auth.Forbidden:
		return nil, err
	default:
		s.logger.Error("Authorization failed", "source", def.LocalID, "error", err)
		return nil, errors.Server("authorization failed")
	}

	p, outcome, err := s.cache.Plan(r.Context(), def, params, s.requester(r, user))
	info.cache = outcome
	if err != nil {
		return nil, err
	}
	filename, err := pipeline.DefaultFilename(def, params, p.Output)
	if err != nil {
		return nil, err
	}
	return &dataPlan{
		def:      def,
		params:   params,
		pipeline: p,
		header:   executor.Header{Mime: p.Output, Disposition: disposition(p.Output), Filename: filename},
	}, nil
}

func noDataMessage(params map[string]string) string {
	begin, end := params[source.KeyTimeMin], params[source.KeyTimeMax]
	if begin == "" || end == "" {
		return "No data in the requested interval"
	}
	return fmt.Sprintf("No data in the interval %s to %s", begin, end)
}

// serveData streams the pipeline for one data request. Errors found before
// the first output byte get a proper status and envelope; later ones are
// sent in-band in the stream's own framing.
func (s *Server) serveData(w http.ResponseWriter, r *http.Request, convention, localID string, form map[string]string) {
	env := envelopeFor(r, convention)
	dp, err := s.plan(r, w.Header(), convention, localID, form)
	if err != nil {
		s.writeError(w, r, env, err)
		return
	}

	sink := executor.NewHTTPSink(w, s.allowOrigin)
	res, err := s.runner.Run(r.Context(), dp.pipeline, sink, dp.header)
	log := s.logger.With("request_id", infoFrom(r.Context()).id, "source", dp.def.LocalID)
	switch {
	case res == nil:
		s.writeError(w, r, env, err)
	case r.Context().Err() != nil:
		log.Info("Client disconnected during stream", "bytes", res.Bytes)
	case err != nil && res.BodyWritten:
		log.Warn("Stream aborted", "bytes", res.Bytes, "error", err)
	case err != nil || !res.OK():
		failure := errors.Server("data reader for %s failed with exit status %d", dp.def.LocalID, res.ExitCode)
		if !res.HeadersSent {
			s.writeError(w, r, env, failure)
			return
		}
		if pkt := executor.ExceptionFor(dp.header.Mime, failure); pkt != nil {
			_, _ = sink.Write(pkt)
		}
	case !res.BodyWritten:
		if err := sink.Start(dp.header); err != nil {
			return
		}
		if pkt := executor.Exception(dp.header.Mime, errors.KindNoData, noDataMessage(dp.params)); pkt != nil {
			_, _ = sink.Write(pkt)
		}
	}
}

// handleDas2 serves the das2 server=<verb> interface.
func (s *Server) handleDas2(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	infoFrom(r.Context()).convention = source.ConventionDas2
	env := envelopeFor(r, source.ConventionDas2)

	switch verb := q.Get("server"); verb {
	case "dataset":
		id := q.Get("dataset")
		if id == "" {
			s.writeError(w, r, env, errors.Query("missing dataset parameter"))
			return
		}
		s.serveData(w, r, source.ConventionDas2, id, collectForm(r))
	case "dsdf":
		id := q.Get("dataset")
		if id == "" {
			s.writeError(w, r, env, errors.Query("missing dataset parameter"))
			return
		}
		s.serveStreamHeader(w, r, id)
	case "list":
		s.serveCatalog(w, r, source.CatalogDas2)
	case "":
		s.writeError(w, r, env, errors.Query("missing server parameter"))
	default:
		s.writeError(w, r, env, errors.Todo("server=%s is not implemented", verb))
	}
}

// handleHAPI serves /hapi/data.
func (s *Server) handleHAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		id = q.Get("dataset")
	}
	if id == "" {
		infoFrom(r.Context()).convention = source.ConventionHAPI
		s.writeError(w, r, envelopeFor(r, source.ConventionHAPI), errors.Query("missing id parameter"))
		return
	}
	s.serveData(w, r, source.ConventionHAPI, id, collectForm(r))
}
