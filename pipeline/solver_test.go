package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

var (
	das2 = source.Mime{Type: source.MimeDas2Binary}
	csv  = source.Mime{Type: source.MimeCSV}
	png  = source.Mime{Type: source.MimePNG}
)

func scalar(s string) *source.Scalar {
	v := source.Scalar(s)
	return &v
}

func mimePtr(m source.Mime) *source.Mime {
	return &m
}

func testDef(t *testing.T, extra ...*source.Command) *source.SourceDef {
	t.Helper()
	def := &source.SourceDef{
		LocalID: "test/src",
		Label:   "src",
		Commands: []*source.Command{
			{
				Label:    "reader",
				Order:    10,
				Template: "rdr #[read.time.min] #[read.time.max] #[read.opts##]",
				Output:   das2,
			},
			{
				Label:    "binner",
				Order:    20,
				Template: "bin #[bin.time.max]",
				Triggers: []source.Trigger{{Key: source.KeyResolution, Value: scalar("0"), Compare: source.CompareGt}},
				Input:    mimePtr(das2),
				Output:   das2,
			},
			{
				Label:    "csv",
				Order:    30,
				Template: "to_csv",
				Triggers: []source.Trigger{{Key: source.KeyFormatType, Value: scalar("csv")}},
				Input:    mimePtr(das2),
				Output:   csv,
			},
			{
				Label:    "png",
				Order:    30,
				Template: "plot #[format.width#-w @#]",
				Triggers: []source.Trigger{{Key: source.KeyFormatType, Value: scalar("png")}},
				Input:    mimePtr(das2),
				Output:   png,
			},
		},
	}
	def.Commands = append(def.Commands, extra...)
	require.NoError(t, def.Compile())
	return def
}

func times(extra map[string]string) map[string]string {
	p := map[string]string{source.KeyTimeMin: "2023-01-01", source.KeyTimeMax: "2023-01-02"}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func TestSolve(t *testing.T) {
	def := testDef(t)

	tests := []struct {
		name   string
		params map[string]string
		want   string
		labels []string
		output source.Mime
	}{
		{"reader only", times(nil), "rdr 2023-01-01 2023-01-02", []string{"reader"}, das2},
		{"with options", times(map[string]string{source.KeyOptions: "-a"}), "rdr 2023-01-01 2023-01-02 -a", []string{"reader"}, das2},
		{"binned", times(map[string]string{source.KeyResolution: "60"}), "rdr 2023-01-01 2023-01-02 | bin 60", []string{"reader", "binner"}, das2},
		{"zero resolution not binned", times(map[string]string{source.KeyResolution: "0"}), "rdr 2023-01-01 2023-01-02", []string{"reader"}, das2},
		{
			"csv",
			times(map[string]string{source.KeyResolution: "1.5", source.KeyFormatType: "csv"}),
			"rdr 2023-01-01 2023-01-02 | bin 1.5 | to_csv",
			[]string{"reader", "binner", "csv"},
			csv,
		},
		{"png", times(map[string]string{source.KeyFormatType: "png", "format.width": "800"}), "rdr 2023-01-01 2023-01-02 | plot -w 800", []string{"reader", "png"}, png},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Solve(def, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.labels, p.Labels())
			assert.Equal(t, tt.output, p.Output)

			for i := 1; i < len(p.Stages); i++ {
				assert.Greater(t, p.Stages[i].Command.Order, p.Stages[i-1].Command.Order)
			}
		})
	}
}

func TestSolve_Ambiguous(t *testing.T) {
	def := testDef(t,
		&source.Command{Label: "a", Order: 40, Template: "a", Triggers: []source.Trigger{{Key: "x"}}, Input: mimePtr(das2), Output: das2},
		&source.Command{Label: "b", Order: 40, Template: "b", Triggers: []source.Trigger{{Key: "x"}}, Input: mimePtr(das2), Output: das2},
	)

	_, err := Solve(def, times(map[string]string{"x": "1"}))
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
	assert.Contains(t, err.Error(), "Ambiguous")

	_, err = Solve(def, times(nil))
	assert.NoError(t, err)
}

func TestSolve_UpstreamNotTriggered(t *testing.T) {
	def := &source.SourceDef{
		LocalID: "gated",
		Commands: []*source.Command{
			{Label: "raw", Order: 10, Template: "raw", Triggers: []source.Trigger{{Key: "mode", Value: scalar("raw")}}, Output: das2},
			{Label: "filter", Order: 20, Template: "filter", Input: mimePtr(das2), Output: das2},
		},
	}
	require.NoError(t, def.Compile())

	_, err := Solve(def, map[string]string{"mode": "cooked"})
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
	assert.Contains(t, err.Error(), "Upstream source not triggered")

	p, err := Solve(def, map[string]string{"mode": "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw | filter", p.String())
}

func TestSolve_MimeMismatch(t *testing.T) {
	def := testDef(t,
		&source.Command{Label: "qds", Order: 50, Template: "q", Triggers: []source.Trigger{{Key: "q"}},
			Input: &source.Mime{Type: source.MimeQStream}, Output: csv},
		&source.Command{Label: "any", Order: 60, Template: "tee", Triggers: []source.Trigger{{Key: "tee"}},
			Input: &source.Mime{Type: source.MimeAny}, Output: csv},
	)

	_, err := Solve(def, times(map[string]string{"q": "1"}))
	require.Error(t, err)
	assert.Equal(t, errors.KindServer, errors.KindOf(err))

	p, err := Solve(def, times(map[string]string{"tee": "1"}))
	require.NoError(t, err)
	assert.Equal(t, "rdr 2023-01-01 2023-01-02 | tee", p.String())
}

func TestSolve_MissingRequired(t *testing.T) {
	_, err := Solve(testDef(t), map[string]string{source.KeyTimeMin: "2023-01-01"})
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
	assert.Contains(t, err.Error(), source.KeyTimeMax)
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 1, compare("10", "9"))
	assert.Equal(t, 0, compare("60", "60.0"))
	assert.Equal(t, -1, compare("10", "9x"))
	assert.Equal(t, 1, compare("b", "a"))
}

func TestTriggered(t *testing.T) {
	cmd := &source.Command{Triggers: []source.Trigger{
		{Key: "a"},
		{Key: "n", Value: scalar("5"), Compare: source.CompareLe},
	}}
	assert.True(t, Triggered(cmd, map[string]string{"a": "", "n": "5"}))
	assert.False(t, Triggered(cmd, map[string]string{"a": "", "n": "6"}))
	assert.False(t, Triggered(cmd, map[string]string{"n": "1"}))
	assert.True(t, Triggered(&source.Command{}, nil))
}

func TestSingle(t *testing.T) {
	p := Single("cache", "das_cache_rdr a b", das2)
	assert.Equal(t, "das_cache_rdr a b", p.String())
	assert.Equal(t, []string{"cache"}, p.Labels())
	assert.Equal(t, das2, p.Output)
}
