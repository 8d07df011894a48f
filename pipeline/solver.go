// Package pipeline selects and expands the command chain that answers a
// request.
//
// Solving evaluates each command's triggers against the parameters, keeps
// one command per order value, checks that the chain starts at a reader
// and that every stage accepts its upstream content type, and expands the
// compiled templates into a shell pipeline joined by " | ".
package pipeline

import (
	"sort"
	"strconv"
	"strings"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

// Stage is one expanded command of a pipeline.
type Stage struct {
	Command *source.Command
	Text    string
}

// Pipeline is a solved, expanded command chain.
type Pipeline struct {
	Stages []Stage
	// Output is the content type of the last stage.
	Output source.Mime
}

// String returns the shell command line.
func (p *Pipeline) String() string {
	parts := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " | ")
}

// Labels returns the stage labels in order.
func (p *Pipeline) Labels() []string {
	out := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		out = append(out, s.Command.Label)
	}
	return out
}

// Single builds a one-stage pipeline around an ad-hoc command line.
func Single(label, text string, output source.Mime) *Pipeline {
	cmd := &source.Command{Label: label, Template: source.Template(text), Output: output}
	return &Pipeline{Stages: []Stage{{Command: cmd, Text: text}}, Output: output}
}

// Triggered reports whether all of cmd's triggers hold for params.
func Triggered(cmd *source.Command, params map[string]string) bool {
	for _, tr := range cmd.Triggers {
		if !triggerHolds(tr, params) {
			return false
		}
	}
	return true
}

func triggerHolds(tr source.Trigger, params map[string]string) bool {
	v, ok := params[tr.Key]
	if !ok {
		return false
	}
	if tr.Value == nil {
		return true
	}
	c := compare(v, string(*tr.Value))
	switch tr.Compare {
	case source.CompareGt:
		return c > 0
	case source.CompareGe:
		return c >= 0
	case source.CompareLt:
		return c < 0
	case source.CompareLe:
		return c <= 0
	default:
		return c == 0
	}
}

// compare orders numerically when both sides parse as numbers and
// lexically otherwise.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// Select returns the triggered commands of def in ascending order.
func Select(def *source.SourceDef, params map[string]string) ([]*source.Command, error) {
	byOrder := make(map[int][]*source.Command)
	for _, cmd := range def.Commands {
		if Triggered(cmd, params) {
			byOrder[cmd.Order] = append(byOrder[cmd.Order], cmd)
		}
	}
	if len(byOrder) == 0 {
		return nil, errors.Query("Upstream source not triggered for %s", def.LocalID)
	}

	orders := make([]int, 0, len(byOrder))
	for o := range byOrder {
		orders = append(orders, o)
	}
	sort.Ints(orders)

	chain := make([]*source.Command, 0, len(orders))
	for _, o := range orders {
		cmds := byOrder[o]
		if len(cmds) > 1 {
			labels := make([]string, len(cmds))
			for i, c := range cmds {
				labels[i] = c.Label
			}
			return nil, errors.Query("Ambiguous request: commands %s all apply at order %d",
				strings.Join(labels, ", "), o)
		}
		chain = append(chain, cmds[0])
	}

	if !chain[0].IsReader() {
		return nil, errors.Query("Upstream source not triggered for %s", def.LocalID)
	}
	for i := 1; i < len(chain); i++ {
		cur, prev := chain[i], chain[i-1]
		if cur.IsReader() {
			return nil, errors.Server("%s: reader %s triggered downstream of %s", def.LocalID, cur.Label, prev.Label)
		}
		if !cur.Input.Accepts(prev.Output) {
			return nil, errors.Server("%s: command %s takes %s but %s produces %s",
				def.LocalID, cur.Label, cur.Input, prev.Label, prev.Output)
		}
	}
	return chain, nil
}

// Expand substitutes params into each command. Commands that expand to
// nothing are dropped; the output type is still the last command's.
func Expand(chain []*source.Command, params map[string]string) (*Pipeline, error) {
	if len(chain) == 0 {
		return nil, errors.Server("empty command chain")
	}
	p := &Pipeline{Output: chain[len(chain)-1].Output}
	for _, cmd := range chain {
		tmpl := cmd.Compiled()
		if tmpl == nil {
			return nil, errors.Server("command %s was not compiled", cmd.Label)
		}
		text, err := tmpl.Expand(params)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		p.Stages = append(p.Stages, Stage{Command: cmd, Text: text})
	}
	if len(p.Stages) == 0 {
		return nil, errors.Server("all commands expanded to nothing")
	}
	return p, nil
}

// Solve selects and expands the pipeline for params.
func Solve(def *source.SourceDef, params map[string]string) (*Pipeline, error) {
	chain, err := Select(def, params)
	if err != nil {
		return nil, err
	}
	return Expand(chain, params)
}
