package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"yen":     FormatYen,
	"date":    formatDate,
	"datePtr": formatDatePtr,
}).ParseFS(templateFS, "templates/*.html"))

// LeadDetailsData feeds the admin notification sent after the details form.
type LeadDetailsData struct {
	LeadID           string
	Amount           int64
	Answers          []AnswerLine
	Name             string
	Phone            string
	Email            string
	Address          string
	PreferredContact string
	Note             string
	LineLinked       bool
	Photos           []PhotoLine
	SubmittedAt      time.Time
}

type AnswerLine struct {
	Question string
	Answer   string
}

type PhotoLine struct {
	FileName string
	TakenAt  *time.Time
}

// RenderLeadDetails renders the admin mail and its subject.
func RenderLeadDetails(data LeadDetailsData) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "lead_details.html", data); err != nil {
		return "", "", fmt.Errorf("render lead details mail: %w", err)
	}
	if data.Name == "" {
		return fmt.Sprintf(subjectLeadDetailsAnonymousFmt, FormatYen(data.Amount)), buf.String(), nil
	}
	return fmt.Sprintf(subjectLeadDetailsFmt, data.Name, FormatYen(data.Amount)), buf.String(), nil
}

// FormatYen renders an amount with thousands separators, e.g. 860,000円.
func FormatYen(amount int64) string {
	return message.NewPrinter(language.Japanese).Sprintf("%d円", amount)
}

var jst = time.FixedZone("JST", 9*60*60)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(jst).Format("2006/01/02 15:04")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDate(*t)
}
