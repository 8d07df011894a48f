package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/executor"
	"github.com/das-developers/das2py-server-sub000/source"
)

const conventionWebSocket = "websocket"

func closeCode(kind errors.Kind) int {
	switch kind {
	case errors.KindQuery, errors.KindAuthRequired, errors.KindForbidden, errors.KindNotFound, errors.KindRemoteServer:
		return websocket.ClosePolicyViolation
	case errors.KindTodo:
		return websocket.CloseUnsupportedData
	case errors.KindNoData:
		return websocket.CloseNormalClosure
	default:
		return websocket.CloseInternalServerErr
	}
}

// handleWebSocket runs a das3 data request over a websocket. Output chunks
// go out as binary frames; a failure is one text frame holding a das3
// exception followed by a close frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	infoFrom(r.Context()).convention = conventionWebSocket
	id, action := splitAction(strings.TrimPrefix(r.URL.Path, "/ws/source/"))
	if action != actionData || id == "" {
		s.writeError(w, r, envJSON, errors.NotFound("no websocket endpoint %s", r.URL.Path))
		return
	}
	form := collectForm(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// control frames are only processed while reading
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sink := executor.NewWebSocketSink(conn)
	fail := func(err error) {
		kind := errors.KindOf(err)
		_ = sink.Fail(executor.Das3Exception(kind, errors.Message(err)), closeCode(kind))
	}

	dp, err := s.plan(r.WithContext(ctx), nil, source.ConventionDas3, id, form)
	if err != nil {
		fail(err)
		return
	}
	res, err := s.runner.Run(ctx, dp.pipeline, sink, dp.header)
	switch {
	case res == nil:
		s.logger.Error("Pipeline did not start", "source", dp.def.LocalID, "error", err)
		fail(errors.Server("data reader for %s did not start", dp.def.LocalID))
	case ctx.Err() != nil:
		s.logger.Info("Websocket client went away", "source", dp.def.LocalID, "bytes", res.Bytes)
	case err != nil || !res.OK():
		fail(errors.Server("data reader for %s failed with exit status %d", dp.def.LocalID, res.ExitCode))
	case !res.BodyWritten:
		fail(errors.NoData("%s", noDataMessage(dp.params)))
	default:
		_ = sink.Close()
	}
}
