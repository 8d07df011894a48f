package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

func TestNormalizeOptions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", NoParams},
		{"   ", NoParams},
		{NoParams, NoParams},
		{"hfr", "hfr"},
		{"lfr hfr", "hfr_lfr"},
		{"--mode=survey -b", "__mode=survey__b"},
		{"b\ta  c", "a_b_c"},
	}
	for _, tt := range tests {
		got := NormalizeOptions(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, got, NormalizeOptions(got), "idempotent for %q", tt.in)
	}
}

func TestDefaultFilename(t *testing.T) {
	def := testDef(t)

	name, err := DefaultFilename(def, times(nil), das2)
	require.NoError(t, err)
	assert.Equal(t, "src_2023-01-01_2023-01-02.d2s", name)

	def.FileNamingRules = []source.NamingRule{
		{Function: "echo", Args: []string{"cassini", "#[missing##]"}},
		{Function: "isorange"},
		{Function: "normparams"},
		{Function: "timeres", Args: []string{"#[bin.time.max##]"}},
	}
	name, err = DefaultFilename(def, times(map[string]string{
		source.KeyOptions:    "-b -a",
		source.KeyResolution: "60",
	}), csv)
	require.NoError(t, err)
	assert.Equal(t, "cassini_2023-01-01_2023-01-02__a__b_60s.csv", name)

	name, err = DefaultFilename(def, map[string]string{source.KeyTimeMin: "2023-01-01T10:30"}, png)
	require.NoError(t, err)
	assert.Equal(t, "cassini.png", name)

	def.FileNamingRules = []source.NamingRule{{Function: "checksum"}}
	_, err = DefaultFilename(def, times(nil), das2)
	assert.Equal(t, errors.KindServer, errors.KindOf(err))
}

func TestIsoRange(t *testing.T) {
	got, ok := IsoRange(map[string]string{source.KeyTimeMin: "2023-01-01T10:30", source.KeyTimeMax: "2023-01-01T11:00:05"})
	require.True(t, ok)
	assert.Equal(t, "2023-01-01T10-30_2023-01-01T11-00-05", got)

	_, ok = IsoRange(map[string]string{source.KeyTimeMin: "2023-01-01"})
	assert.False(t, ok)
}
