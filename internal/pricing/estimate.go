package pricing

import (
	"fmt"
	"strings"

	"estimate_backend/internal/questionflow"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BreakdownEntry records one pricing step for audit and display.
type BreakdownEntry struct {
	Value       string  `json:"value"`
	Kind        Kind    `json:"kind"`
	Coefficient float64 `json:"coefficient,omitempty"`
	// Contribution is the yen change this step made to the running subtotal.
	Contribution int64 `json:"contribution"`
}

// Estimate is the result of pricing a complete answer set.
type Estimate struct {
	Amount       int64                     `json:"amount"`
	Breakdown    map[string]BreakdownEntry `json:"breakdown"`
	Narrative    string                    `json:"narrative"`
	TableVersion string                    `json:"tableVersion"`
}

// Clone returns a copy that shares no map with e.
func (e Estimate) Clone() Estimate {
	if e.Breakdown != nil {
		breakdown := make(map[string]BreakdownEntry, len(e.Breakdown))
		for k, v := range e.Breakdown {
			breakdown[k] = v
		}
		e.Breakdown = breakdown
	}
	return e
}

// Compute prices answers. It never fails: absent or unknown values fall back to the
// step default, a non-positive subtotal becomes zero, and the result is rounded half-up
// to the denomination.
func (t *Table) Compute(answers questionflow.AnswerSet) Estimate {
	breakdown := make(map[string]BreakdownEntry, len(t.steps)+1)

	baseValue := answers[t.base.Question]
	baseAmount, ok := t.base.Amounts[baseValue]
	if !ok {
		baseAmount = t.base.Default
	}
	running := baseAmount * scale
	breakdown[string(KindBase)] = BreakdownEntry{Value: baseValue, Kind: KindBase, Contribution: baseAmount}

	for _, s := range t.steps {
		value := answers[s.adj.Question]
		param, ok := s.byAnswer[value]
		if !ok {
			param = s.def
		}

		before := running
		entry := BreakdownEntry{Value: value, Kind: s.adj.Kind}
		switch s.adj.Kind {
		case KindMultiply:
			running = divRoundHalfUp(running*param, scale)
			entry.Coefficient = float64(param) / scale
		case KindAdd:
			running += param * scale
		}
		entry.Contribution = divRoundHalfUp(running-before, scale)
		breakdown[s.adj.Name] = entry
	}

	if running < 0 {
		running = 0
	}
	unit := t.denomination * scale
	amount := (running + unit/2) / unit * t.denomination

	est := Estimate{
		Amount:       amount,
		Breakdown:    breakdown,
		TableVersion: t.version,
	}
	est.Narrative = t.narrative(answers, amount)
	return est
}

// divRoundHalfUp divides rounding halves away from zero.
func divRoundHalfUp(n, d int64) int64 {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

func (t *Table) narrative(answers questionflow.AnswerSet, amount int64) string {
	p := message.NewPrinter(language.Japanese)
	var b strings.Builder
	b.WriteString(p.Sprintf("概算お見積もり金額は %d円 です。\n", amount))

	lines := []questionflow.QuestionID{t.base.Question}
	for _, s := range t.steps {
		lines = append(lines, s.adj.Question)
	}
	seen := make(map[questionflow.QuestionID]bool, len(lines))
	for _, id := range lines {
		value, ok := answers[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		fmt.Fprintf(&b, "・%s\n", t.labelFor(id, value))
	}
	b.WriteString("※現地調査の結果により金額が変わる場合があります。")
	return b.String()
}

func (t *Table) labelFor(id questionflow.QuestionID, value string) string {
	if t.label == nil {
		return value
	}
	return t.label(id, value)
}
