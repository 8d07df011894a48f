package source

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

const surveyDSDF = `; Cassini RPWS survey
description = 'Cassini RPWS survey; low rate'
techContact = Jane Doe <jane@example.org>
base = $(READER_ROOT,/opt/readers)
reader = $(base)/rpws_rdr $
   -f $(THIS_FILE)
param_01 = 'hfr | High frequency receiver'
param_02 = lfr
cacheLevel_01 = 60 s | 1 day
cacheLevel_02 = intrinsic | 1 hour
exampleRange_00 = 2023-01-01 to 2023-01-02 | Quiet day
validRange = 1997-10-15 to now
readAccess = GROUP:cassini | USER:bob
securityRealm = RPWS Team
hidden = true
`

func TestParseDSDF(t *testing.T) {
	f, err := parseDSDF("x.dsdf", []byte(surveyDSDF))
	require.NoError(t, err)

	desc, ok := f.get("DESCRIPTION")
	assert.True(t, ok)
	assert.Equal(t, "Cassini RPWS survey; low rate", desc)

	reader, _ := f.get("reader")
	assert.Equal(t, "$(base)/rpws_rdr -f $(THIS_FILE)", reader)

	params := f.indexed("param")
	require.Len(t, params, 2)
	assert.Equal(t, "01", params[0].index)
	assert.Equal(t, "hfr | High frequency receiver", params[0].value)
	assert.Equal(t, 7, params[0].line)
}

func TestParseDSDF_Errors(t *testing.T) {
	for name, src := range map[string]string{
		"empty":        "   \n\n",
		"no equals":    "reader rdr\n",
		"dangling":     "reader = rdr $\n",
		"space in key": "my key = v\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseDSDF("x.dsdf", []byte(src))
			require.Error(t, err)
			assert.Equal(t, errors.KindServer, errors.KindOf(err))
		})
	}
}

func TestSubstituteVars(t *testing.T) {
	src := "a = $(b)-x\nb = $(c,dflt)\nreader = $(a) $(p) $(v) $(missing,none)\n"
	f, err := parseDSDF("/defs/v.dsdf", []byte(src))
	require.NoError(t, err)
	require.NoError(t, substituteVars(f, map[string]string{"p": "param"}, map[string]string{"v": "var"}))

	reader, _ := f.get("reader")
	assert.Equal(t, "dflt-x param var none", reader)

	f, err = parseDSDF("/defs/v.dsdf", []byte("p = from-file\nreader = $(p) $(THIS_FILE)\n"))
	require.NoError(t, err)
	require.NoError(t, substituteVars(f, map[string]string{"p": "from-params"}, nil))
	reader, _ = f.get("reader")
	assert.Equal(t, "from-file /defs/v.dsdf", reader)
}

func TestSubstituteVars_Errors(t *testing.T) {
	f, err := parseDSDF("c.dsdf", []byte("a = $(b)\nb = $(c)\nc = $(a)\nreader = $(a)\n"))
	require.NoError(t, err)
	err = substituteVars(f, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVariableCycle))
	assert.Equal(t, errors.KindServer, errors.KindOf(err))

	f, err = parseDSDF("u.dsdf", []byte("reader = $(NOPE)\n"))
	require.NoError(t, err)
	err = substituteVars(f, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestSubstituteVars_Environment(t *testing.T) {
	t.Setenv("DASFLEX_TEST_READERS", "/env/bin")
	t.Setenv("DASFLEX_TEST_SHADOWED", "/env/other")

	f, err := parseDSDF("e.dsdf", []byte("reader = $(DASFLEX_TEST_READERS)/rdr $(DASFLEX_TEST_SHADOWED)\n"))
	require.NoError(t, err)
	require.NoError(t, substituteVars(f, nil, map[string]string{"DASFLEX_TEST_SHADOWED": "/cfg"}))

	reader, _ := f.get("reader")
	assert.Equal(t, "/env/bin/rdr /cfg", reader, "config vars win over the environment")
}

func TestLoad_DSDFSynthesis(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "Cassini/Survey.dsdf", surveyDSDF)

	def, err := NewLoader(root, "", WithVars(map[string]string{"READER_ROOT": "/usr/local/bin"})).Load("cassini/survey")
	require.NoError(t, err)

	assert.Equal(t, "Cassini/Survey", def.LocalID)
	assert.Equal(t, "Survey", def.Label)
	assert.Equal(t, FormatDSDF, def.Format)
	assert.True(t, def.Hidden)
	require.Len(t, def.Contacts, 1)
	assert.Equal(t, Contact{Type: "technical", Name: "Jane Doe", Email: "jane@example.org"}, def.Contacts[0])

	require.Len(t, def.Commands, 2)
	reader := def.Commands[0]
	assert.Equal(t, readerOrder, reader.Order)
	assert.Equal(t, Template("/usr/local/bin/rpws_rdr -f "+filepath.Join(root, "Cassini", "Survey.dsdf")+
		" #[read.time.min] #[read.time.max] #[read.opts##]"), reader.Template)
	assert.Equal(t, MimeDas2Binary, reader.Output.Type)
	assert.Equal(t, path, def.Path)

	reducer := def.Commands[1]
	assert.Equal(t, reducerOrder, reducer.Order)
	assert.Equal(t, Template(DefaultReducer+" #[bin.time.max]"), reducer.Template)
	require.NotNil(t, reducer.Input)
	assert.Equal(t, []Trigger{{Key: KeyResolution}}, reducer.Triggers)

	opts := def.Protocol.HTTPParams[KeyOptions]
	require.NotNil(t, opts)
	assert.Equal(t, ParamFlagSet, opts.Type)
	require.Len(t, opts.Flags, 2)
	assert.Equal(t, "hfr", opts.Flags[0].Name)
	assert.Equal(t, "High frequency receiver", opts.Flags[0].Description)
	assert.True(t, def.Protocol.HTTPParams[KeyTimeMin].Required)

	require.NotNil(t, def.Cache)
	require.Len(t, def.Cache.BlockSets, 2)
	daily := def.Cache.BlockSets["60s"]
	require.NotNil(t, daily)
	assert.Equal(t, 60.0, daily.ResolutionSeconds())
	assert.Equal(t, "day", daily.Unit().String())
	raw := def.Cache.BlockSets["intrinsic"]
	require.NotNil(t, raw)
	assert.Equal(t, 0.0, raw.ResolutionSeconds())

	require.NotNil(t, def.Authorization)
	assert.Equal(t, []string{"cassini"}, def.Authorization.UserInGroup)
	assert.Equal(t, []string{"bob"}, def.Authorization.UserIs)
	assert.True(t, def.Protocol.AuthRequired)
	assert.Equal(t, "RPWS Team", def.Protocol.AuthRealm)

	var iface struct {
		Examples []exampleRange `json:"examples"`
		Coords   struct {
			Time struct {
				ValidRange []string `json:"validRange"`
			} `json:"time"`
		} `json:"coords"`
	}
	require.NoError(t, json.Unmarshal(def.Interface, &iface))
	require.Len(t, iface.Examples, 1)
	assert.Equal(t, "Quiet day", iface.Examples[0].Label)
	assert.Equal(t, []string{"1997-10-15", "now"}, iface.Coords.Time.ValidRange)
}

func TestSynthesize_IntervalAndQStream(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ephem.dsdf", "reader = ephem_rdr\nrequiresInterval = 1\nqstream = 1\ndropParams = true\n")

	def, err := NewLoader(root, "").Load("ephem")
	require.NoError(t, err)
	require.Len(t, def.Commands, 1)
	assert.Equal(t, Template("ephem_rdr #[read.time.int] #[read.time.min] #[read.time.max]"), def.Commands[0].Template)
	assert.Equal(t, MimeQStream, def.Commands[0].Output.Type)
	assert.True(t, def.Protocol.HTTPParams[KeyInterval].Required)
	assert.Equal(t, ParamString, def.Protocol.HTTPParams[KeyOptions].Type)
	assert.Nil(t, def.Cache)
}

func TestSynthesize_StreamType(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "binary.dsdf", "reader = r\ndas2Stream = 1\n")
	writeFile(t, root, "text.dsdf", "reader = r\ndas2Stream = text\nreducer = das2_bin_avg\n")
	writeFile(t, root, "both.dsdf", "reader = r\ndas2Stream = text\nqstream = yes\n")
	loader := NewLoader(root, "")

	def, err := loader.Load("binary")
	require.NoError(t, err)
	assert.Equal(t, MimeDas2Binary, def.Commands[0].Output.Type)
	require.Len(t, def.Commands, 2, "default reducer")

	def, err = loader.Load("text")
	require.NoError(t, err)
	require.Len(t, def.Commands, 2)
	assert.Equal(t, MimeDas2Text, def.Commands[0].Output.Type)
	assert.Equal(t, MimeDas2Text, def.Commands[1].Input.Type)
	assert.Equal(t, MimeDas2Text, def.Commands[1].Output.Type)

	def, err = loader.Load("both")
	require.NoError(t, err)
	assert.Equal(t, MimeQStream, def.Commands[0].Output.Type)
}

func TestSynthesize_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "noreader.dsdf", "description = nothing to run\n")
	writeFile(t, root, "badcache.dsdf", "reader = r\ncacheLevel_01 = 60 s\n")
	writeFile(t, root, "badaccess.dsdf", "reader = r\nreadAccess = TEAM:x\n")
	loader := NewLoader(root, "")

	for _, id := range []string{"noreader", "badcache", "badaccess"} {
		_, err := loader.Load(id)
		require.Error(t, err, id)
		assert.Equal(t, errors.KindServer, errors.KindOf(err), id)
	}
}
