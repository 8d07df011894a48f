package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

func loadRandom(t *testing.T) *SourceDef {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "random.json", randomJSON)
	def, err := NewLoader(root, "").Load("random")
	require.NoError(t, err)
	return def
}

func TestPrepare_Das2(t *testing.T) {
	def := loadRandom(t)
	def.Defaults = map[string]map[string]string{ConventionDas2: {"format.type": "binary", KeyResolution: "1"}}

	params, err := def.Prepare(ConventionDas2, map[string]string{
		"server":     "dataset",
		"dataset":    "random",
		"start_time": " 2023-01-01 ",
		"end_time":   "2023-01-02",
		"resolution": "60",
		"params":     "",
		"extra":      "kept",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		KeyTimeMin:    "2023-01-01",
		KeyTimeMax:    "2023-01-02",
		KeyResolution: "60",
		"format.type": "binary",
		"extra":       "kept",
	}, params)
}

func TestPrepare_HAPIAndOverrides(t *testing.T) {
	def := loadRandom(t)
	def.Translate = map[string]map[string]string{ConventionHAPI: {"parameters": "", "extra": "read.opts"}}

	params, err := def.Prepare(ConventionHAPI, map[string]string{
		"id":         "random",
		"time.min":   "2023-01-01",
		"time.max":   "2023-01-02",
		"parameters": "density",
		"extra":      "-a",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		KeyTimeMin: "2023-01-01",
		KeyTimeMax: "2023-01-02",
		KeyOptions: "-a",
	}, params)
}

func TestScreenInjection(t *testing.T) {
	bad := []string{
		"a;b", "a|b", "../etc", `..\x`, `c:\x`, "x>y", "x<y", "a&b", "$HOME",
		"x\ntouch /tmp/f", "x\rtouch /tmp/f", "`id`",
	}
	for _, v := range bad {
		err := ScreenInjection(map[string]string{"read.opts": v})
		require.Error(t, err, v)
		assert.Equal(t, errors.KindQuery, errors.KindOf(err), v)
	}
	assert.NoError(t, ScreenInjection(map[string]string{
		KeyTimeMin: "2023-01-01T10:00:00",
		KeyOptions: "-a --gain=3.5 ./local",
	}))

	assert.Error(t, ScreenInjection(map[string]string{"read\nopts": "x"}), "keys are screened too")

	def := loadRandom(t)
	_, err := def.Prepare(ConventionDas3, map[string]string{KeyTimeMin: "2023; rm -rf /"})
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
	_, err = def.Prepare(ConventionDas3, map[string]string{KeyTimeMin: "2023-01-01", KeyOptions: "x\nid"})
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
}

func TestValidate(t *testing.T) {
	def := loadRandom(t)
	base := func(extra map[string]string) map[string]string {
		p := map[string]string{KeyTimeMin: "2023-01-01", KeyTimeMax: "2023-01-02"}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}

	tests := []struct {
		name    string
		params  map[string]string
		wantErr string
		want    map[string]string
	}{
		{name: "minimal", params: base(nil)},
		{name: "missing required", params: map[string]string{KeyTimeMin: "2023-01-01"}, wantErr: "read.time.max"},
		{name: "bad time", params: base(map[string]string{KeyTimeMin: "yesterday"}), wantErr: "not a valid time"},
		{name: "bad real", params: base(map[string]string{KeyResolution: "fast"}), wantErr: "not a number"},
		{name: "out of range", params: base(map[string]string{KeyResolution: "90000"}), wantErr: "outside"},
		{name: "unknown flag", params: base(map[string]string{KeyOptions: "-q"}), wantErr: "unknown option"},
		{name: "bad flag arg", params: base(map[string]string{KeyOptions: "--gain=loud"}), wantErr: "expected a number"},
		{
			name:   "flags reordered",
			params: base(map[string]string{KeyOptions: "-a --gain=3 zeta -a"}),
			want:   base(map[string]string{KeyOptions: "-z -a --gain=3"}),
		},
		{
			name:   "undeclared passes",
			params: base(map[string]string{"format.type": "text"}),
			want:   base(map[string]string{"format.type": "text"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := def.Validate(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, errors.KindQuery, errors.KindOf(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			want := tt.want
			if want == nil {
				want = tt.params
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestValidate_ParamTypes(t *testing.T) {
	p := &HTTPParam{Type: ParamEnum, Enum: []string{"binary", "text"}}
	_, err := p.check("format.type", "xml")
	assert.Error(t, err)
	v, err := p.check("format.type", "text")
	require.NoError(t, err)
	assert.Equal(t, "text", v)

	b := &HTTPParam{Type: ParamBoolean}
	_, err = b.check("flag", "maybe")
	assert.Error(t, err)
	_, err = b.check("flag", "TRUE")
	assert.NoError(t, err)

	n := &HTTPParam{Type: ParamInteger, Range: []float64{1, 10}}
	_, err = n.check("count", "2.5")
	assert.Error(t, err)
	_, err = n.check("count", "11")
	assert.Error(t, err)
	_, err = n.check("count", "7")
	assert.NoError(t, err)

	comma := &HTTPParam{Type: ParamFlagSet, FlagSep: ",", Flags: FlagSet{{Name: "b", Value: "b"}, {Name: "a", Value: "a"}}}
	v, err = comma.check("opts", "a, b")
	require.NoError(t, err)
	assert.Equal(t, "b,a", v)
}
