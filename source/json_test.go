package source

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"{} // c", "{} "},
		{"// only\n{}", "\n{}"},
		{`{"u": "http://x"}`, `{"u": "http://x"}`},
		{`{"q": "a\"//b"} // c`, `{"q": "a\"//b"} `},
		{"{\"a\": 1, // one\n\"b\": 2}", "{\"a\": 1, \n\"b\": 2}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(StripComments([]byte(tt.in))), tt.in)
	}
}

const minimalCommands = `"commands": [{"order": 10, "template": "rdr", "output": {"type": "text/csv"}}]`

func TestIncludes(t *testing.T) {
	root := t.TempDir()
	inc := root + "/_include_"
	writeFile(t, root, "_include_/common.json", `{
		"title": "Common title",
		"label": "FromInclude",
		"$include": ["contacts.json"],
		"protocol": {"convention": "das3", "authRealm": "included"}
	}`)
	writeFile(t, root, "_include_/contacts.json", `{"contacts": [{"type": "technical", "name": "Ops"}]}`)
	writeFile(t, root, "main.json", `{
		"$include": ["common.json"],
		"title": "Main title",
		"protocol": {"authRequired": true},
		`+minimalCommands+`
	}`)

	def, err := NewLoader(root, inc).Load("main")
	require.NoError(t, err)
	assert.Equal(t, "Main title", def.Title)
	assert.Equal(t, "FromInclude", def.Label)
	assert.True(t, def.Protocol.AuthRequired)
	assert.Equal(t, "das3", def.Protocol.Convention)
	require.Len(t, def.Contacts, 1)
	assert.Equal(t, "Ops", def.Contacts[0].Name)
}

func TestIncludes_SiblingBeforeIncludeDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "_include_/part.json", `{"title": "from include dir"}`)
	writeFile(t, root, "grp/part.json", `{"title": "from sibling"}`)
	writeFile(t, root, "grp/main.json", `{"$include": "part.json", `+minimalCommands+`}`)

	def, err := NewLoader(root, root+"/_include_").Load("grp/main")
	require.NoError(t, err)
	assert.Equal(t, "from sibling", def.Title)
}

func TestIncludes_Limits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "loop.json", `{"$include": ["loop.json"], `+minimalCommands+`}`)

	names := make([]string, maxIncludesPerNode+1)
	for i := range names {
		names[i] = fmt.Sprintf("%q", fmt.Sprintf("p%d.json", i))
	}
	writeFile(t, root, "many.json", `{"$include": [`+strings.Join(names, ",")+`], `+minimalCommands+`}`)
	writeFile(t, root, "missing.json", `{"$include": ["nope.json"], `+minimalCommands+`}`)
	writeFile(t, root, "escape.json", `{"$include": ["../x.json"], `+minimalCommands+`}`)
	loader := NewLoader(root, "")

	_, err := loader.Load("loop")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIncludeDepth))
	assert.Equal(t, errors.KindServer, errors.KindOf(err))

	for _, id := range []string{"many", "missing", "escape"} {
		_, err = loader.Load(id)
		require.Error(t, err, id)
		assert.Equal(t, errors.KindServer, errors.KindOf(err), id)
	}
}

func TestSchemaValidation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "nocmds.json", `{"title": "x"}`)
	writeFile(t, root, "badorder.json", `{"commands": [{"order": "ten", "template": "r", "output": {"type": "a"}}]}`)
	writeFile(t, root, "badcompare.json", `{"commands": [{"order": 1, "template": "r", "output": {"type": "a"},
		"triggers": [{"key": "k", "compare": "ne"}]}]}`)
	loader := NewLoader(root, "")

	for _, id := range []string{"nocmds", "badorder", "badcompare"} {
		_, err := loader.Load(id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, errors.ErrInvalidData), id)
		assert.Equal(t, errors.KindServer, errors.KindOf(err), id)
	}
}
