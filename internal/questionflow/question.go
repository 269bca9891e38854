// Package questionflow drives the branching estimate questionnaire: which questions are
// visible for a given answer set, where the cursor is, and which answers must be dropped
// when an earlier answer changes.
package questionflow

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// QuestionID identifies a question. Only ids defined in the loaded flow are valid answer keys.
type QuestionID string

const (
	QuestionWorkType     QuestionID = "workType"
	QuestionAge          QuestionID = "age"
	QuestionFloors       QuestionID = "floors"
	QuestionWallMaterial QuestionID = "wallMaterial"
	QuestionRoofMaterial QuestionID = "roofMaterial"
)

// Work type option values referenced by visibility rules.
const (
	WorkTypeWall        = "wall"
	WorkTypeRoof        = "roof"
	WorkTypeWallAndRoof = "wall+roof"
)

// Option is the canonical shape of a selectable answer.
type Option struct {
	Value  string            `json:"value" yaml:"value"`
	Label  string            `json:"label" yaml:"label"`
	Weight float64           `json:"weight,omitempty" yaml:"weight,omitempty"`
	Meta   map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// UnmarshalYAML accepts either a bare scalar ("siding") or a mapping
// ({value: siding, label: サイディング}) and normalizes both into an Option.
func (o *Option) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		o.Value = node.Value
		o.Label = node.Value
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: option must be a scalar or a mapping", node.Line)
	}

	type rawOption Option
	var raw rawOption
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Label == "" {
		raw.Label = raw.Value
	}
	*o = Option(raw)
	return nil
}

// Predicate makes a question visible only when an earlier question's answer is (or is not)
// one of the listed values. An unanswered referenced question hides the dependent question.
type Predicate struct {
	Question QuestionID `json:"question" yaml:"question"`
	In       []string   `json:"in,omitempty" yaml:"in,omitempty"`
	NotIn    []string   `json:"notIn,omitempty" yaml:"notIn,omitempty"`
}

func (p *Predicate) eval(answers AnswerSet) bool {
	value, ok := answers[p.Question]
	if !ok {
		return false
	}
	if len(p.In) > 0 && !slices.Contains(p.In, value) {
		return false
	}
	if slices.Contains(p.NotIn, value) {
		return false
	}
	return true
}

// Question is a static questionnaire step.
type Question struct {
	ID          QuestionID `json:"id" yaml:"id"`
	Prompt      string     `json:"prompt" yaml:"prompt"`
	Options     []Option   `json:"options" yaml:"options"`
	VisibleWhen *Predicate `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
}

// Visible reports whether the question is shown for answers. No predicate means always.
func (q Question) Visible(answers AnswerSet) bool {
	if q.VisibleWhen == nil {
		return true
	}
	return q.VisibleWhen.eval(answers)
}

// Option returns the option with the given value.
func (q Question) Option(value string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.Value == value {
			return opt, true
		}
	}
	return Option{}, false
}

// AnswerSet maps question ids to selected option values.
type AnswerSet map[QuestionID]string

// Clone returns an independent copy.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// State is the caller-owned traversal state: the cursor indexes the visible questions.
type State struct {
	Cursor  int       `json:"cursor"`
	Answers AnswerSet `json:"answers"`
}
