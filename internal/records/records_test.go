package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"estimate_backend/internal/email"
	"estimate_backend/internal/events"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/platform/config"
	"estimate_backend/platform/logger"
)

func testFlow(t *testing.T) *questionflow.Flow {
	t.Helper()
	flow, err := questionflow.Default()
	if err != nil {
		t.Fatalf("load flow: %v", err)
	}
	return flow
}

func testLead() repository.Lead {
	return repository.Lead{
		ID: "lead-1",
		Answers: questionflow.AnswerSet{
			questionflow.QuestionWorkType:     questionflow.WorkTypeWall,
			questionflow.QuestionAge:          "11-15y",
			questionflow.QuestionFloors:       "2",
			questionflow.QuestionWallMaterial: "siding",
		},
		Estimate: &pricing.Estimate{Amount: 860000},
		Identity: "U123",
		Details: &repository.Details{
			Name:  "山田太郎",
			Phone: "+819012345678",
			Photos: []repository.PhotoRef{
				{FileKey: "leads/lead-1/a.jpg", FileName: "a.jpg"},
			},
		},
	}
}

func TestBuildRowFollowsQuestionOrder(t *testing.T) {
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	row := BuildRow(testFlow(t), testLead(), now)

	want := []string{
		"2024-06-01 12:00:00", "lead-1", "860000",
		"外壁塗装", "11〜15年", "2", "サイディング", "",
		"山田太郎", "+819012345678", "", "", "", "", "yes", "1",
	}
	if len(row) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(row), row)
	}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("column %d: expected %q, got %q", i, want[i], row[i])
		}
	}
}

func TestBuildRowWithoutDetails(t *testing.T) {
	lead := testLead()
	lead.Details = nil
	lead.Identity = ""
	lead.Estimate = nil

	row := BuildRow(testFlow(t), lead, time.Now())
	if row[2] != "" {
		t.Fatalf("expected empty amount, got %q", row[2])
	}
	if row[len(row)-2] != "no" || row[len(row)-1] != "0" {
		t.Fatalf("unexpected trailing columns: %v", row)
	}
}

func TestSheetsClientAppendRow(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	var gotBody appendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewSheetsClient(&config.Config{
		SheetsAPIBaseURL:    srv.URL,
		SheetsSpreadsheetID: "sheet-1",
		SheetsRange:         "Leads!A1",
		SheetsAccessToken:   "tok",
	})
	if err := client.AppendRow(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if gotPath != "/spreadsheets/sheet-1/values/Leads%21A1:append" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if !strings.Contains(gotQuery, "valueInputOption=USER_ENTERED") {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if len(gotBody.Values) != 1 || strings.Join(gotBody.Values[0], ",") != "a,b" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestSheetsClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewSheetsClient(&config.Config{
		SheetsAPIBaseURL:    srv.URL,
		SheetsSpreadsheetID: "s",
		SheetsAccessToken:   "tok",
	})
	err := client.AppendRow(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestSheetsClientDisabled(t *testing.T) {
	client := NewSheetsClient(&config.Config{})
	if client != nil {
		t.Fatalf("expected nil client when unconfigured")
	}
	if err := client.AppendRow(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("nil client should be a no-op, got %v", err)
	}
}

type fakeRows struct {
	mu   sync.Mutex
	rows [][]string
	err  error
}

func (f *fakeRows) AppendRow(_ context.Context, columns []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, columns)
	return f.err
}

type fakeMail struct {
	mu          sync.Mutex
	subjects    []string
	bodies      []string
	attachments int
	err         error
}

func (f *fakeMail) SendAdminNotification(_ context.Context, subject, body string, attachments []email.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	f.attachments += len(attachments)
	return f.err
}

func TestSinkRecordsBothChannels(t *testing.T) {
	rows := &fakeRows{}
	mail := &fakeMail{}
	sink := New(testFlow(t), rows, mail, logger.Discard())

	sink.Record(context.Background(), testLead(), []email.Attachment{{FileName: "a.jpg", Content: []byte{1}}})

	if len(rows.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows.rows))
	}
	if len(mail.subjects) != 1 {
		t.Fatalf("expected one mail, got %d", len(mail.subjects))
	}
	if !strings.Contains(mail.subjects[0], "山田太郎") || !strings.Contains(mail.subjects[0], "860,000円") {
		t.Fatalf("unexpected subject %q", mail.subjects[0])
	}
	if !strings.Contains(mail.bodies[0], "サイディング") || !strings.Contains(mail.bodies[0], "a.jpg") {
		t.Fatalf("mail body is missing answers or photos")
	}
	if mail.attachments != 1 {
		t.Fatalf("expected one attachment, got %d", mail.attachments)
	}
}

func TestSinkFailuresAreLoggedNotReturned(t *testing.T) {
	rows := &fakeRows{err: errors.New("sheets down")}
	mail := &fakeMail{err: errors.New("smtp down")}
	var logs strings.Builder
	sink := New(testFlow(t), rows, mail, logger.NewWithWriter("production", &logs))

	sink.Record(context.Background(), testLead(), nil)

	out := logs.String()
	if strings.Count(out, "side_channel_failure") != 2 {
		t.Fatalf("expected two side channel failures logged, got:\n%s", out)
	}
	if len(rows.rows) != 1 || len(mail.subjects) != 1 {
		t.Fatalf("both channels should have been attempted")
	}
}

func TestSinkWithoutChannels(t *testing.T) {
	sink := New(testFlow(t), nil, nil, logger.NewWithWriter("production", io.Discard))
	sink.Record(context.Background(), testLead(), nil)
}

func TestSinkRecordsSubmittedDetailsFromBus(t *testing.T) {
	rows := &fakeRows{}
	mail := &fakeMail{}
	bus := events.NewInMemoryBus(logger.Discard())
	New(testFlow(t), rows, mail, logger.Discard()).Subscribe(bus)

	lead := testLead()
	err := bus.PublishSync(context.Background(), events.DetailsSubmitted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		PhotoCount: 1,
		Lead:       lead,
		Photos:     []email.Attachment{{FileName: "a.jpg", Content: []byte{1}}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(rows.rows) != 1 || len(mail.subjects) != 1 || mail.attachments != 1 {
		t.Fatalf("expected row and mail with attachment, got %d/%d/%d", len(rows.rows), len(mail.subjects), mail.attachments)
	}
}
