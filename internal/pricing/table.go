// Package pricing turns a complete questionnaire answer set into a rounded yen estimate.
package pricing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"

	"estimate_backend/internal/questionflow"

	"gopkg.in/yaml.v3"
)

// Kind is how an adjustment combines with the running subtotal.
type Kind string

const (
	KindBase     Kind = "base"
	KindMultiply Kind = "multiply"
	KindAdd      Kind = "add"
)

// scale is the fixed-point factor for coefficients (basis points) and the running subtotal.
const scale = 10000

//go:embed pricing.yaml
var defaultTable []byte

// Base selects the starting amount by the work-type answer.
type Base struct {
	Question questionflow.QuestionID `yaml:"question"`
	Default  int64                   `yaml:"default"`
	Amounts  map[string]int64        `yaml:"amounts"`
}

// Adjustment is one named step applied after the base amount, in table order.
type Adjustment struct {
	Name     string                  `yaml:"name"`
	Question questionflow.QuestionID `yaml:"question"`
	Kind     Kind                    `yaml:"kind"`
	// Default applies when the answer is absent or has no entry in Values.
	Default float64            `yaml:"default"`
	Values  map[string]float64 `yaml:"values"`
}

type document struct {
	Version      string       `yaml:"version"`
	Denomination int64        `yaml:"denomination"`
	Base         Base         `yaml:"base"`
	Adjustments  []Adjustment `yaml:"adjustments"`
}

type step struct {
	adj      Adjustment
	def      int64
	byAnswer map[string]int64
}

// Table is an immutable, validated pricing table.
type Table struct {
	version      string
	denomination int64
	base         Base
	steps        []step
	label        func(questionflow.QuestionID, string) string
}

// Load parses and validates a YAML pricing table.
func Load(r io.Reader) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}
	return newTable(doc)
}

// Default returns the embedded pricing table.
func Default() (*Table, error) {
	return Load(bytes.NewReader(defaultTable))
}

func newTable(doc document) (*Table, error) {
	if doc.Denomination <= 0 {
		return nil, errors.New("pricing table: denomination must be positive")
	}
	if doc.Base.Question == "" {
		return nil, errors.New("pricing table: base question is required")
	}
	if doc.Base.Default < 0 {
		return nil, errors.New("pricing table: base default must not be negative")
	}
	for value, amount := range doc.Base.Amounts {
		if amount < 0 {
			return nil, fmt.Errorf("pricing table: base amount for %q is negative", value)
		}
	}

	names := make(map[string]struct{}, len(doc.Adjustments))
	steps := make([]step, 0, len(doc.Adjustments))
	for _, adj := range doc.Adjustments {
		if adj.Name == "" || adj.Question == "" {
			return nil, errors.New("pricing table: adjustment needs a name and a question")
		}
		if _, dup := names[adj.Name]; dup {
			return nil, fmt.Errorf("pricing table: duplicate adjustment %q", adj.Name)
		}
		names[adj.Name] = struct{}{}

		var convert func(float64) (int64, error)
		switch adj.Kind {
		case KindMultiply:
			if adj.Default == 0 {
				adj.Default = 1.0
			}
			convert = toBasisPoints
		case KindAdd:
			convert = toYen
		default:
			return nil, fmt.Errorf("pricing table: adjustment %q has unknown kind %q", adj.Name, adj.Kind)
		}

		s := step{adj: adj, byAnswer: make(map[string]int64, len(adj.Values))}
		var err error
		if s.def, err = convert(adj.Default); err != nil {
			return nil, fmt.Errorf("pricing table: adjustment %q default: %w", adj.Name, err)
		}
		for value, raw := range adj.Values {
			if s.byAnswer[value], err = convert(raw); err != nil {
				return nil, fmt.Errorf("pricing table: adjustment %q value %q: %w", adj.Name, value, err)
			}
		}
		steps = append(steps, s)
	}

	return &Table{
		version:      doc.Version,
		denomination: doc.Denomination,
		base:         doc.Base,
		steps:        steps,
	}, nil
}

func toBasisPoints(coefficient float64) (int64, error) {
	if coefficient < 0 || math.IsNaN(coefficient) || math.IsInf(coefficient, 0) {
		return 0, fmt.Errorf("coefficient %v out of range", coefficient)
	}
	return int64(math.Round(coefficient * scale)), nil
}

func toYen(amount float64) (int64, error) {
	if amount != math.Trunc(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("additive amount %v must be whole yen", amount)
	}
	return int64(amount), nil
}

// Version identifies the table the estimate was computed with.
func (t *Table) Version() string { return t.version }

// Denomination is the rounding unit of every amount.
func (t *Table) Denomination() int64 { return t.denomination }

// WithLabels returns a copy of the table that renders answer labels in narratives.
func (t *Table) WithLabels(label func(questionflow.QuestionID, string) string) *Table {
	cp := *t
	cp.label = label
	return &cp
}

// CheckAgainst verifies that every question and option value the table keys on exists in flow.
func (t *Table) CheckAgainst(flow *questionflow.Flow) error {
	var errs []error
	check := func(where string, id questionflow.QuestionID, values []string) {
		q, ok := flow.Question(id)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: question %q is not defined", where, id))
			return
		}
		for _, v := range values {
			if _, ok := q.Option(v); !ok {
				errs = append(errs, fmt.Errorf("%s: %q is not an option of %q", where, v, id))
			}
		}
	}

	check("base", t.base.Question, keys(t.base.Amounts))
	for _, s := range t.steps {
		check(s.adj.Name, s.adj.Question, keys(s.adj.Values))
	}
	return errors.Join(errs...)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
