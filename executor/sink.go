package executor

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/das-developers/das2py-server-sub000/source"
)

// Disposition values for Content-Disposition.
const (
	Attachment = "attachment"
	Inline     = "inline"
)

// Header describes the response a pipeline produces.
type Header struct {
	Mime        source.Mime
	Disposition string
	Filename    string
}

// ContentDisposition renders the header value.
func (h Header) ContentDisposition() string {
	d := h.Disposition
	if d == "" {
		d = Attachment
	}
	if h.Filename == "" {
		return d
	}
	return fmt.Sprintf("%s; filename=\"%s\"", d, h.Filename)
}

// Sink receives pipeline output. Start is called once, before the first
// byte is written.
type Sink interface {
	io.Writer
	Start(h Header) error
}

// HTTPSink streams to an HTTP response with deferred headers.
type HTTPSink struct {
	w           http.ResponseWriter
	allowOrigin string
	started     bool
}

// NewHTTPSink wraps w. allowOrigin, when set, is sent as
// Access-Control-Allow-Origin.
func NewHTTPSink(w http.ResponseWriter, allowOrigin string) *HTTPSink {
	return &HTTPSink{w: w, allowOrigin: allowOrigin}
}

// Start emits the success headers.
func (s *HTTPSink) Start(h Header) error {
	if s.started {
		return nil
	}
	s.started = true
	hdr := s.w.Header()
	SetCORS(hdr, s.allowOrigin)
	hdr.Set("Content-Type", h.Mime.String())
	hdr.Set("Expires", "now")
	hdr.Set("Content-Disposition", h.ContentDisposition())
	s.w.WriteHeader(http.StatusOK)
	s.flush()
	return nil
}

// Started reports whether headers have gone out.
func (s *HTTPSink) Started() bool {
	return s.started
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	s.flush()
	return n, nil
}

func (s *HTTPSink) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// SetCORS sets the cross-origin headers on hdr.
func SetCORS(hdr http.Header, allowOrigin string) {
	if allowOrigin == "" {
		return
	}
	hdr.Set("Access-Control-Allow-Origin", allowOrigin)
	hdr.Set("Access-Control-Allow-Methods", "GET")
	hdr.Set("Access-Control-Allow-Headers", "Authorization")
}

// FileSink writes to <target>.tmp and renames it over target on Commit.
// Readers of target never see a partial file.
type FileSink struct {
	target string
	f      *os.File
}

// NewFileSink creates a sink for target.
func NewFileSink(target string) *FileSink {
	return &FileSink{target: target}
}

// Start creates the parent directories and the temporary file.
func (s *FileSink) Start(Header) error {
	if s.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(s.target + ".tmp")
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.f == nil {
		if err := s.Start(Header{}); err != nil {
			return 0, err
		}
	}
	return s.f.Write(p)
}

// Commit moves the finished file into place. A sink that never received
// output commits an empty file.
func (s *FileSink) Commit() error {
	if err := s.Start(Header{}); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.f.Name())
		return err
	}
	return os.Rename(s.target+".tmp", s.target)
}

// Abort discards the temporary file.
func (s *FileSink) Abort() {
	if s.f == nil {
		return
	}
	s.f.Close()
	os.Remove(s.target + ".tmp")
}

// WebSocketSink sends each write as one binary frame.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketSink wraps an upgraded connection.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Start is a no-op; text frames are reserved for exceptions.
func (s *WebSocketSink) Start(Header) error {
	return nil
}

func (s *WebSocketSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Fail sends an exception packet as a text frame followed by a close frame.
func (s *WebSocketSink) Fail(packet []byte, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, packet); err != nil {
		return err
	}
	return s.close(code)
}

// Close sends a normal close frame.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close(websocket.CloseNormalClosure)
}

func (s *WebSocketSink) close(code int) error {
	msg := websocket.FormatCloseMessage(code, "")
	return s.conn.WriteMessage(websocket.CloseMessage, msg)
}
