package queue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/das-developers/das2py-server-sub000/errors"
)

var testRequester = Requester{Host: "das.example.org", PID: 4242, Script: "dasflex", RemoteAddr: "10.0.0.7", User: "bob"}

func cacheJob(t *testing.T, localID string) *Job {
	t.Helper()
	j, err := NewCacheJob(testRequester, CacheArgs{
		LocalID: localID,
		Begin:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		Level:   "60s",
		Options: "hfr lfr",
	})
	require.NoError(t, err)
	return j
}

func TestJob_EncodeQueued(t *testing.T) {
	j := cacheJob(t, "cassini/survey")
	j.Submitted = time.Date(2023, 5, 6, 7, 8, 9, 123e6, time.UTC)

	assert.Equal(t,
		"2023-05-06T07:08:09.123|das.example.org|4242|dasflex|10.0.0.7|bob|TASK_CACHE|"+
			"cassini/survey|2023-01-02T00:00:00.000|2023-01-03T00:00:00.000|60s|hfr lfr",
		j.Encode())

	back, err := Decode(j.Encode())
	require.NoError(t, err)
	assert.Equal(t, j, back)
	assert.False(t, back.Running())
	assert.False(t, back.Done())
}

func TestJob_Lifecycle(t *testing.T) {
	j := cacheJob(t, "a")
	start := time.Date(2023, 5, 6, 8, 0, 0, 0, time.UTC)

	j.Begin(start)
	j.SetProgress(0.25, "block 1 of 4")
	rec := j.Encode()
	back, err := Decode(rec)
	require.NoError(t, err)
	assert.True(t, back.Running())
	assert.Equal(t, "block 1 of 4", back.Status)
	assert.InDelta(t, 0.25, back.Progress, 1e-9)
	assert.Equal(t, start, back.Started)

	j.SetProgress(7, "")
	assert.Equal(t, 1.0, j.Progress)

	j.End(start.Add(time.Minute), 143, StatusInterrupted)
	back, err = Decode(j.Encode())
	require.NoError(t, err)
	assert.True(t, back.Done())
	assert.Equal(t, 143, back.ExitCode)
	assert.Equal(t, StatusInterrupted, back.Status)
	assert.Equal(t, start.Add(time.Minute), back.Ended)
}

func TestJob_Escaping(t *testing.T) {
	req := testRequester
	req.User = "odd|user%"
	j, err := NewJob(CategoryHAPIInfo, req, "a|b%7C")
	require.NoError(t, err)

	rec := j.Encode()
	assert.Contains(t, rec, "odd%7Cuser%25")
	back, err := Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, "odd|user%", back.Requester.User)
	assert.Equal(t, []string{"a|b%7C"}, back.Args)
}

func TestJob_NewJobValidation(t *testing.T) {
	_, err := NewJob(CategoryCache, testRequester, "only-one")
	assert.True(t, errors.IsInvalid(err))
	_, err = NewJob("BOGUS", testRequester)
	assert.True(t, errors.IsInvalid(err))

	j, err := NewJob(CategoryListRefresh, testRequester)
	require.NoError(t, err)
	assert.Empty(t, j.Args)
}

func TestDecode_Malformed(t *testing.T) {
	base := "2023-05-06T07:08:09.123|h|1|s|r|u|"
	for name, rec := range map[string]string{
		"short":            "2023-05-06|h|1",
		"bad time":         "yesterday|h|1|s|r|u|LIST_REFRESH",
		"bad pid":          "2023-05-06|h|x|s|r|u|LIST_REFRESH",
		"unknown category": base + "NOPE",
		"missing args":     base + "HAPI_INFO_CACHE",
		"partial running":  base + "LIST_REFRESH|2023-05-06|running",
		"bad progress":     base + "LIST_REFRESH|2023-05-06|running|lots",
		"bad exit":         base + "LIST_REFRESH|2023-05-06|running|1|2023-05-07|boom",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(rec)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestJob_CacheArgs(t *testing.T) {
	j := cacheJob(t, "cassini/survey")
	args, err := j.Cache()
	require.NoError(t, err)
	want := CacheArgs{
		LocalID: "cassini/survey",
		Begin:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		Level:   "60s",
		Options: "hfr lfr",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("cache args mismatch (-want +got):\n%s", diff)
	}

	other, err := NewJob(CategoryUsage, testRequester, "2023-01")
	require.NoError(t, err)
	_, err = other.Cache()
	assert.Error(t, err)
}

func TestJob_SameTarget(t *testing.T) {
	a := cacheJob(t, "x")
	b := cacheJob(t, "x")
	b.Requester.User = "someone else"
	assert.True(t, a.SameTarget(b))
	assert.False(t, a.SameTarget(cacheJob(t, "y")))
}
