package analysis

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
)

type fakeGenerator struct {
	response string
	prompt   string
}

func (g *fakeGenerator) generate(_ context.Context, _, prompt string) (string, error) {
	g.prompt = prompt
	return g.response, nil
}

func TestAnalyzeAppliesConfidenceThreshold(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n" + `{
		"fields": [
			{"field": "name", "confirmed": true, "value": null, "confidence": 0.95},
			{"field": "budget", "confirmed": true, "value": "£1,400", "confidence": 0.9},
			{"field": "occupation", "confirmed": true, "value": "Nurse", "confidence": 0.4},
			{"field": "contract_length", "confirmed": true, "value": "12 months", "confidence": 0.8},
			{"field": "email", "confirmed": true, "value": "x@y.z", "confidence": 0.99}
		],
		"viewing": {"booked": true, "date": "2024-06-01", "time": "14:00", "confidence": 0.85},
		"outcome": {"successful": true, "reason": "booked"}
	}` + "\n```"}
	a := &Analyzer{gen: gen}

	lead := domain.NewLead(uuid.New(), "+447400123456", time.Now())
	_ = lead.Fields.Seed(domain.FieldName, "Jane")

	update, err := a.Analyze(context.Background(), &lead, "agent: hi\nuser: hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(update.Confirm, []domain.Field{domain.FieldName}) {
		t.Fatalf("unexpected confirmations: %v", update.Confirm)
	}
	want := map[domain.Field]string{
		domain.FieldBudget:         "£1,400",
		domain.FieldContractLength: "TWELVE_MONTHS",
	}
	if !reflect.DeepEqual(update.Values, want) {
		t.Fatalf("unexpected values: %v", update.Values)
	}
	if update.ViewingDate == nil || *update.ViewingDate != "2024-06-01" || update.ViewingTime == nil || *update.ViewingTime != "14:00" {
		t.Fatalf("expected viewing to be extracted")
	}
	if !strings.Contains(gen.prompt, "name: Jane (unconfirmed)") {
		t.Fatalf("expected prompt to carry lead context, got:\n%s", gen.prompt)
	}
}

func TestAnalyzeSkipsLowConfidenceViewing(t *testing.T) {
	gen := &fakeGenerator{response: `{"fields": [], "viewing": {"booked": true, "date": "Monday", "time": "2pm", "confidence": 0.3}, "outcome": {}}`}
	a := &Analyzer{gen: gen}
	lead := domain.NewLead(uuid.New(), "+447400123456", time.Now())

	update, err := a.Analyze(context.Background(), &lead, "user: maybe monday")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !update.IsEmpty() {
		t.Fatalf("expected empty update, got %+v", update)
	}
}

func TestAnalyzeRejectsMalformedResponse(t *testing.T) {
	a := &Analyzer{gen: &fakeGenerator{response: "not json"}}
	lead := domain.NewLead(uuid.New(), "+447400123456", time.Now())
	if _, err := a.Analyze(context.Background(), &lead, "user: hi"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNilAnalyzer(t *testing.T) {
	var a *Analyzer
	lead := domain.NewLead(uuid.New(), "+447400123456", time.Now())
	if _, err := a.Analyze(context.Background(), &lead, "user: hi"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestMapContractLength(t *testing.T) {
	cases := map[string]string{
		"6_months":           "SIX_MONTHS",
		"a year":             "TWELVE_MONTHS",
		"less than 6 months": "LT_SIX_MONTHS",
		"18 months":          "GT_TWELVE_MONTHS",
		"SIX_MONTHS":         "SIX_MONTHS",
	}
	for in, want := range cases {
		if got := mapContractLength(in); got != want {
			t.Errorf("mapContractLength(%q) = %q, want %q", in, got, want)
		}
	}
}
