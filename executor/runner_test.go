package executor

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	daserrors "github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/pipeline"
	"github.com/das-developers/das2py-server-sub000/source"
)

var das3 = source.Mime{Type: source.MimeDas3Binary}

type recordingSink struct {
	starts   int
	header   Header
	body     bytes.Buffer
	writeErr error
}

func (s *recordingSink) Start(h Header) error {
	s.starts++
	s.header = h
	return nil
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.starts == 0 {
		return 0, errors.New("write before start")
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.body.Write(p)
}

func TestRun_Success(t *testing.T) {
	r := NewRunner()
	sink := &recordingSink{}
	h := Header{Mime: das3, Filename: "a.d3b"}

	p := pipeline.Single("reader", `printf 'hello'; printf 'warn' >&2`, das3)
	res, err := r.Run(context.Background(), p, sink, h)
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.True(t, res.HeadersSent)
	assert.True(t, res.BodyWritten)
	assert.Equal(t, int64(5), res.Bytes)
	assert.Equal(t, "warn", res.Stderr)
	assert.Equal(t, 1, sink.starts)
	assert.Equal(t, h, sink.header)
	assert.Equal(t, "hello", sink.body.String())
}

func TestRun_ExitStates(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		exitCode    int
		headersSent bool
		stderr      string
	}{
		{"fails before output", `echo oops >&2; exit 3`, 3, false, "oops\n"},
		{"fails after output", `printf x; exit 2`, 2, true, ""},
		{"no data", `true`, 0, false, ""},
		{"pipeline", `printf 'abc' | tr a-c x-z`, 0, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			res, err := NewRunner().RunCommand(context.Background(), tt.command, sink, Header{Mime: das3})
			require.NoError(t, err)
			assert.Equal(t, tt.exitCode, res.ExitCode)
			assert.Equal(t, tt.headersSent, res.HeadersSent)
			assert.Equal(t, tt.headersSent, res.BodyWritten)
			assert.Equal(t, tt.stderr, res.Stderr)
			if !res.HeadersSent {
				assert.Zero(t, sink.starts)
			}
		})
	}
}

func TestRun_CancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := NewRunner(WithKillGrace(time.Second)).RunCommand(ctx, `sleep 30 & sleep 30; wait`, &recordingSink{}, Header{})
	require.Error(t, err)
	assert.True(t, time.Since(start) < 10*time.Second)
	assert.Equal(t, 128+15, res.ExitCode)
}

func TestRun_SinkFailureStopsPipeline(t *testing.T) {
	sink := &recordingSink{writeErr: errors.New("client gone")}

	start := time.Now()
	res, err := NewRunner(WithKillGrace(time.Second)).RunCommand(context.Background(), `while :; do echo data; done`, sink, Header{})
	require.Error(t, err)
	assert.Equal(t, daserrors.KindServer, daserrors.KindOf(err))
	assert.True(t, res.HeadersSent)
	assert.False(t, res.BodyWritten)
	assert.True(t, time.Since(start) < 10*time.Second)
}

func TestRun_StderrBounded(t *testing.T) {
	res, err := NewRunner(WithMaxStderr(10)).RunCommand(context.Background(), `printf '0123456789abcdef' >&2; exit 1`, &recordingSink{}, Header{})
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n[stderr truncated]", res.Stderr)
}

func TestRun_StartFailure(t *testing.T) {
	_, err := NewRunner(WithShell("/nonexistent/shell")).RunCommand(context.Background(), "true", &recordingSink{}, Header{})
	require.Error(t, err)
	assert.Equal(t, daserrors.KindServer, daserrors.KindOf(err))
}

func TestHTTPSink_DeferredHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Header{Mime: das3, Disposition: Inline, Filename: "random_2023-01-01_2023-01-02.d3b"}

	res, err := NewRunner().RunCommand(context.Background(), `printf '|Sx||0|'`, NewHTTPSink(rec, "*"), h)
	require.NoError(t, err)
	require.True(t, res.BodyWritten)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, source.MimeDas3Binary, rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="random_2023-01-01_2023-01-02.d3b"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "now", rec.Header().Get("Expires"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "|Sx||0|", rec.Body.String())

	failed := httptest.NewRecorder()
	sink := NewHTTPSink(failed, "*")
	res, err = NewRunner().RunCommand(context.Background(), `exit 4`, sink, h)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.False(t, sink.Started())
	assert.False(t, failed.Flushed)
	assert.Empty(t, failed.Header().Get("Content-Type"))
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "2023", "01", "2023-01-02_60s.d2s")

	sink := NewFileSink(target)
	res, err := NewRunner().RunCommand(context.Background(), `printf block`, sink, Header{})
	require.NoError(t, err)
	require.True(t, res.OK())
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "target must not exist before commit")

	require.NoError(t, sink.Commit())
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "block", string(data))
	_, err = os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(err))

	other := filepath.Join(dir, "failed.d2s")
	bad := NewFileSink(other)
	_, err = NewRunner().RunCommand(context.Background(), `printf partial; exit 1`, bad, Header{})
	require.NoError(t, err)
	bad.Abort()
	_, err = os.Stat(other + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	assert.True(t, os.IsNotExist(err))

	empty := filepath.Join(dir, "empty.d2s")
	require.NoError(t, NewFileSink(empty).Commit())
	fi, err := os.Stat(empty)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}
