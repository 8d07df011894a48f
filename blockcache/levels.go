package blockcache

import (
	"math"
	"sort"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/source"
)

// exactTolerance is the relative difference under which two resolutions
// are considered equal.
const exactTolerance = 1e-4

// Level is one named block set of a source cache.
type Level struct {
	Name string
	Set  *source.BlockSet
}

// RequestedResolution returns the resolution asked for in params, in
// seconds. Zero means intrinsic. The block set's resolution parameters are
// consulted first, then the native bin.time.max key.
func RequestedResolution(bs *source.BlockSet, params map[string]string) (float64, error) {
	keys := append(append([]string(nil), bs.ResolutionParams...), source.KeyResolution)
	for _, k := range keys {
		if v, ok := params[k]; ok && v != "" {
			return dastime.ParseResolution(v)
		}
	}
	return 0, nil
}

func fixedMatch(bs *source.BlockSet, params map[string]string) bool {
	for k, want := range bs.FixedParams {
		if params[k] != string(want) {
			return false
		}
	}
	return true
}

// meets reports whether blocks at res can answer a request for req.
func meets(res, req float64) bool {
	return res == 0 || (req > 0 && res <= req)
}

func exact(res, req float64) bool {
	if res == 0 || req == 0 {
		return res == req
	}
	return math.Abs(res-req) <= exactTolerance*math.Max(math.Abs(res), math.Abs(req))
}

// Candidates returns the block sets able to answer params, coarsest first.
func Candidates(def *source.SourceDef, params map[string]string) []Level {
	if def == nil || def.Cache == nil {
		return nil
	}
	var out []Level
	for name, bs := range def.Cache.BlockSets {
		if !fixedMatch(bs, params) {
			continue
		}
		req, err := RequestedResolution(bs, params)
		if err != nil || !meets(bs.ResolutionSeconds(), req) {
			continue
		}
		out = append(out, Level{Name: name, Set: bs})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Set.ResolutionSeconds(), out[j].Set.ResolutionSeconds()
		if ri != rj {
			return ri > rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// IsCacheable reports whether any block set can answer params.
func IsCacheable(def *source.SourceDef, params map[string]string) bool {
	return len(Candidates(def, params)) > 0
}

// IsExactlyCacheable reports whether a block set matches the requested
// resolution itself, so the cached blocks need no further reduction.
func IsExactlyCacheable(def *source.SourceDef, params map[string]string) bool {
	for _, l := range Candidates(def, params) {
		req, _ := RequestedResolution(l.Set, params)
		if exact(l.Set.ResolutionSeconds(), req) {
			return true
		}
	}
	return false
}

// Best picks the coarsest block set that still meets the request.
func Best(def *source.SourceDef, params map[string]string) (Level, bool) {
	c := Candidates(def, params)
	if len(c) == 0 {
		return Level{}, false
	}
	return c[0], true
}

// LevelByName looks up a block set by its cache key.
func LevelByName(def *source.SourceDef, name string) (Level, bool) {
	if def == nil || def.Cache == nil {
		return Level{}, false
	}
	bs, ok := def.Cache.BlockSets[name]
	if !ok {
		return Level{}, false
	}
	return Level{Name: name, Set: bs}, true
}
