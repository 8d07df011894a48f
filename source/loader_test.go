package source

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

func TestLoad_CaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Examples/Random.json", randomJSON)
	loader := NewLoader(root, "")

	for _, id := range []string{"Examples/Random", "examples/random", "EXAMPLES/RANDOM", "/examples/Random/"} {
		def, err := loader.Load(id)
		require.NoError(t, err, id)
		assert.Equal(t, "Examples/Random", def.LocalID, id)
		assert.Equal(t, FormatJSON, def.Format)
		assert.Equal(t, filepath.Join(root, "Examples", "Random.json"), def.Path)
		assert.False(t, def.ModTime.IsZero())
	}
}

func TestLoad_JSONDefinition(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "examples/random.json", randomJSON)

	def, err := NewLoader(root, "").Load("examples/random")
	require.NoError(t, err)

	assert.Equal(t, "Random test data // not a comment", def.Title)
	require.Len(t, def.Commands, 2)
	assert.Equal(t, Template("random_rdr #[read.time.min] #[read.time.max] #[read.opts##]"), def.Commands[0].Template)
	assert.True(t, def.Commands[0].IsReader())
	assert.Equal(t, Scalar("3"), def.Commands[0].Output.Version)
	require.NotNil(t, def.Commands[0].Compiled())
	assert.Equal(t, []string{"read.time.min", "read.time.max", "read.opts"}, def.Commands[0].Compiled().Keys())

	tr := def.Commands[1].Triggers[0]
	require.NotNil(t, tr.Value)
	assert.Equal(t, Scalar("0"), *tr.Value)
	assert.Equal(t, CompareGt, tr.Compare)

	flags := def.Protocol.HTTPParams["read.opts"].Flags
	var names []string
	for _, f := range flags {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "gain"}, names)
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "empty.json", "  \n")
	writeFile(t, root, "broken.json", `{"commands": [`)
	writeFile(t, root, "noreader.json", `{"commands": [{"order": 1, "template": "x", "input": {"type": "a"}, "output": {"type": "a"}}]}`)
	writeFile(t, root, "badtmpl.json", `{"commands": [{"order": 1, "template": "x #[y", "output": {"type": "a"}}]}`)
	writeFile(t, root, "dir/inner.json", randomJSON)
	loader := NewLoader(root, "")

	tests := []struct {
		id   string
		kind errors.Kind
	}{
		{"missing", errors.KindNotFound},
		{"dir", errors.KindNotFound},
		{"../etc/passwd", errors.KindNotFound},
		{"empty", errors.KindServer},
		{"broken", errors.KindServer},
		{"noreader", errors.KindServer},
		{"badtmpl", errors.KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := loader.Load(tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}

	_, err := loader.Load("empty")
	assert.True(t, errors.Is(err, errors.ErrEmptyFile))
}

func TestLoad_RemoteServer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "remote.dsdf", "server = https://das.example.org/\nreader = rdr\n")

	_, err := NewLoader(root, "").Load("remote")
	require.Error(t, err)
	assert.Equal(t, errors.KindRemoteServer, errors.KindOf(err))
	url, ok := errors.RedirectURL(err)
	assert.True(t, ok)
	assert.Equal(t, "https://das.example.org", url)

	def, err := NewLoader(root, "", WithSiteURL("https://das.example.org/server")).Load("remote")
	require.NoError(t, err)
	assert.Equal(t, "remote", def.LocalID)
}

func TestLoad_JSONPreferredOverDSDF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "both.dsdf", "reader = legacy_rdr\n")
	writeFile(t, root, "both.json", randomJSON)

	def, err := NewLoader(root, "").Load("both")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, def.Format)
}

func TestListAndWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.json", randomJSON)
	writeFile(t, root, "b.dsdf", "reader = r\n")
	writeFile(t, root, "a.dsdf", "reader = r\n")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, "_include_/common.json", "{}")
	writeFile(t, root, "Sub/c.json", randomJSON)
	loader := NewLoader(root, "")

	entries, err := loader.List("")
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.LocalID)
	}
	assert.Equal(t, []string{"a", "b", "Sub"}, ids)
	assert.Equal(t, FormatJSON, entries[1].Format)
	assert.True(t, entries[2].Dir)

	var walked []string
	require.NoError(t, loader.Walk(func(e Entry) error {
		walked = append(walked, e.LocalID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "Sub/c"}, walked)

	_, err = loader.List("b")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestStreamHeader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "legacy.dsdf", "description = 'Quote \"me\"'\nreader = rdr\n")

	def, err := NewLoader(root, "").Load("legacy")
	require.NoError(t, err)

	pkt := string(def.StreamHeader())
	require.True(t, len(pkt) > 10)
	assert.Equal(t, "[00]", pkt[:4])
	assert.Contains(t, pkt, `String:description="Quote &#34;me&#34;"`)
	assert.Contains(t, pkt, `String:reader="rdr"`)

	n, err := strconv.Atoi(pkt[4:10])
	require.NoError(t, err)
	assert.Equal(t, len(pkt)-10, n)
}
