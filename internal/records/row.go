package records

import (
	"strconv"
	"time"

	"estimate_backend/internal/email"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/questionflow"
)

const rowTimeLayout = "2006-01-02 15:04:05"

var jst = time.FixedZone("JST", 9*60*60)

// BuildRow lays a lead out as spreadsheet columns: timestamp, lead id,
// amount, one answer label per question in flow order, then the contact
// details.
func BuildRow(flow *questionflow.Flow, lead repository.Lead, now time.Time) []string {
	row := []string{now.In(jst).Format(rowTimeLayout), lead.ID, amountString(lead)}

	for _, q := range flow.Questions() {
		value, ok := lead.Answers[q.ID]
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, flow.Label(q.ID, value))
	}

	d := lead.Details
	if d == nil {
		d = &repository.Details{}
	}
	linked := "no"
	if lead.Identity != "" {
		linked = "yes"
	}
	return append(row,
		d.Name,
		d.Phone,
		d.Email,
		d.Address,
		d.PreferredContact,
		d.Note,
		linked,
		strconv.Itoa(len(d.Photos)),
	)
}

// BuildNotification prepares the admin mail payload.
func BuildNotification(flow *questionflow.Flow, lead repository.Lead, now time.Time) email.LeadDetailsData {
	data := email.LeadDetailsData{
		LeadID:      lead.ID,
		LineLinked:  lead.Identity != "",
		SubmittedAt: now,
	}
	if lead.Estimate != nil {
		data.Amount = lead.Estimate.Amount
	}
	for _, q := range flow.VisibleQuestions(lead.Answers) {
		value, ok := lead.Answers[q.ID]
		if !ok {
			continue
		}
		data.Answers = append(data.Answers, email.AnswerLine{Question: q.Prompt, Answer: flow.Label(q.ID, value)})
	}
	if d := lead.Details; d != nil {
		data.Name = d.Name
		data.Phone = d.Phone
		data.Email = d.Email
		data.Address = d.Address
		data.PreferredContact = d.PreferredContact
		data.Note = d.Note
		for _, p := range d.Photos {
			data.Photos = append(data.Photos, email.PhotoLine{FileName: p.FileName, TakenAt: p.TakenAt})
		}
	}
	return data
}

func amountString(lead repository.Lead) string {
	if lead.Estimate == nil {
		return ""
	}
	return strconv.FormatInt(lead.Estimate.Amount, 10)
}
