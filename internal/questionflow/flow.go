package questionflow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidOption   = errors.New("value is not an option of the question")
	ErrHiddenQuestion  = errors.New("question is not visible for the current answers")
	ErrUnanswered      = errors.New("current question has no answer")
	ErrIncomplete      = errors.New("answer set is incomplete")
)

// DefinitionError reports a defect in the static question definitions.
type DefinitionError struct {
	Question QuestionID
	Reason   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("question %q: %s", e.Question, e.Reason)
}

//go:embed questions.yaml
var defaultQuestions []byte

type document struct {
	Version   string     `yaml:"version"`
	Questions []Question `yaml:"questions"`
}

// Flow holds the immutable question list.
type Flow struct {
	version   string
	questions []Question
	index     map[QuestionID]int
}

// New validates questions and builds a flow. Visibility predicates may only reference
// questions defined earlier in the list.
func New(version string, questions []Question) (*Flow, error) {
	if len(questions) == 0 {
		return nil, errors.New("question flow has no questions")
	}

	index := make(map[QuestionID]int, len(questions))
	for i, q := range questions {
		if strings.TrimSpace(string(q.ID)) == "" {
			return nil, &DefinitionError{Question: q.ID, Reason: fmt.Sprintf("position %d has an empty id", i)}
		}
		if _, dup := index[q.ID]; dup {
			return nil, &DefinitionError{Question: q.ID, Reason: "duplicate id"}
		}
		if len(q.Options) == 0 {
			return nil, &DefinitionError{Question: q.ID, Reason: "no options"}
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if opt.Value == "" {
				return nil, &DefinitionError{Question: q.ID, Reason: "option with empty value"}
			}
			if _, dup := seen[opt.Value]; dup {
				return nil, &DefinitionError{Question: q.ID, Reason: fmt.Sprintf("duplicate option %q", opt.Value)}
			}
			seen[opt.Value] = struct{}{}
		}

		if p := q.VisibleWhen; p != nil {
			ref, ok := index[p.Question]
			switch {
			case p.Question == q.ID:
				return nil, &DefinitionError{Question: q.ID, Reason: "visibility depends on itself"}
			case !ok:
				return nil, &DefinitionError{Question: q.ID, Reason: fmt.Sprintf("visibility references %q which is not defined earlier", p.Question)}
			}
			target := questions[ref]
			for _, v := range append(slices.Clone(p.In), p.NotIn...) {
				if _, ok := target.Option(v); !ok {
					return nil, &DefinitionError{Question: q.ID, Reason: fmt.Sprintf("visibility value %q is not an option of %q", v, p.Question)}
				}
			}
		}
		index[q.ID] = i
	}

	return &Flow{version: version, questions: slices.Clone(questions), index: index}, nil
}

// Load parses a YAML question document.
func Load(r io.Reader) (*Flow, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return New(doc.Version, doc.Questions)
}

// Default returns the embedded questionnaire.
func Default() (*Flow, error) {
	return Load(bytes.NewReader(defaultQuestions))
}

// Version identifies the loaded definitions.
func (f *Flow) Version() string { return f.version }

// Questions returns all definitions in order.
func (f *Flow) Questions() []Question { return slices.Clone(f.questions) }

// Question looks up a definition by id.
func (f *Flow) Question(id QuestionID) (Question, bool) {
	i, ok := f.index[id]
	if !ok {
		return Question{}, false
	}
	return f.questions[i], true
}

// VisibleQuestions filters the definitions by their predicates, in definition order.
func (f *Flow) VisibleQuestions(answers AnswerSet) []Question {
	out := make([]Question, 0, len(f.questions))
	for _, q := range f.questions {
		if q.Visible(answers) {
			out = append(out, q)
		}
	}
	return out
}

// CurrentQuestion returns the question under the cursor; false means the flow is complete.
func (f *Flow) CurrentQuestion(state State) (Question, bool) {
	visible := f.VisibleQuestions(state.Answers)
	if state.Cursor < 0 || state.Cursor >= len(visible) {
		return Question{}, false
	}
	return visible[state.Cursor], true
}

// SetAnswer records value for id and drops answers of later questions that the change hid.
// Answers of earlier questions are never touched. The cursor moves to the edited question.
func (f *Flow) SetAnswer(state State, id QuestionID, value string) (State, error) {
	q, ok := f.Question(id)
	if !ok {
		return state, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	if _, ok := q.Option(value); !ok {
		return state, fmt.Errorf("%w: %s=%q", ErrInvalidOption, id, value)
	}

	pos := slices.IndexFunc(f.VisibleQuestions(state.Answers), func(v Question) bool { return v.ID == id })
	if pos < 0 {
		return state, fmt.Errorf("%w: %s", ErrHiddenQuestion, id)
	}

	next := state.Answers.Clone()
	previous, had := next[id]
	next[id] = value
	if !had || previous != value {
		f.discardHiddenAfter(next, f.index[id])
	}

	return State{Cursor: pos, Answers: next}, nil
}

// discardHiddenAfter walks the definitions after position from. Because predicates only look
// backwards, every predicate sees already-final answers and one pass reaches the fixpoint.
func (f *Flow) discardHiddenAfter(answers AnswerSet, from int) {
	for _, q := range f.questions[from+1:] {
		if _, ok := answers[q.ID]; !ok {
			continue
		}
		if !q.Visible(answers) {
			delete(answers, q.ID)
		}
	}
}

// Advance moves the cursor to the next visible question. complete is true once the cursor
// has passed the last visible question.
func (f *Flow) Advance(state State) (next State, complete bool, err error) {
	visible := f.VisibleQuestions(state.Answers)
	if state.Cursor >= len(visible) {
		return State{Cursor: len(visible), Answers: state.Answers}, true, nil
	}
	if state.Cursor < 0 {
		state.Cursor = 0
	}

	current := visible[state.Cursor]
	if _, ok := state.Answers[current.ID]; !ok {
		return state, false, fmt.Errorf("%w: %s", ErrUnanswered, current.ID)
	}

	next = State{Cursor: state.Cursor + 1, Answers: state.Answers}
	return next, next.Cursor >= len(visible), nil
}

// Back moves the cursor one visible step back without touching answers.
func (f *Flow) Back(state State) State {
	visible := f.VisibleQuestions(state.Answers)
	cursor := state.Cursor
	if cursor > len(visible) {
		cursor = len(visible)
	}
	if cursor > 0 {
		cursor--
	}
	return State{Cursor: cursor, Answers: state.Answers}
}

// Prune returns a copy of answers without unknown keys or answers to hidden questions.
func (f *Flow) Prune(answers AnswerSet) AnswerSet {
	out := make(AnswerSet, len(answers))
	for _, q := range f.questions {
		v, ok := answers[q.ID]
		if !ok {
			continue
		}
		out[q.ID] = v
		if !q.Visible(out) {
			delete(out, q.ID)
		}
	}
	return out
}

// Validate checks that answers is complete: only known ids, only declared option values,
// every visible question answered and no answer for a hidden question.
func (f *Flow) Validate(answers AnswerSet) error {
	var problems []string
	for id := range answers {
		if _, ok := f.index[id]; !ok {
			problems = append(problems, fmt.Sprintf("%s: %v", id, ErrUnknownQuestion))
		}
	}

	for _, q := range f.questions {
		value, answered := answers[q.ID]
		visible := q.Visible(answers)
		switch {
		case visible && !answered:
			problems = append(problems, fmt.Sprintf("%s: missing answer", q.ID))
		case !visible && answered:
			problems = append(problems, fmt.Sprintf("%s: %v", q.ID, ErrHiddenQuestion))
		case answered:
			if _, ok := q.Option(value); !ok {
				problems = append(problems, fmt.Sprintf("%s: %v", q.ID, ErrInvalidOption))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(problems, "; "))
}

// Label returns the display label for an answer, falling back to the raw value.
func (f *Flow) Label(id QuestionID, value string) string {
	q, ok := f.Question(id)
	if !ok {
		return value
	}
	if opt, ok := q.Option(value); ok {
		return opt.Label
	}
	return value
}
