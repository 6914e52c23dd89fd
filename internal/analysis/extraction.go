package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"lettings_backend/internal/leads/domain"
)

const systemInstruction = `You analyse phone call transcripts between Charlie, a lettings agent, and a prospective tenant.
Report which lead details the tenant confirmed or stated during the call: name, budget (monthly, GBP),
move_in_date, occupation, yearly_wage (GBP) and contract_length (one of LT_SIX_MONTHS, SIX_MONTHS,
TWELVE_MONTHS, GT_TWELVE_MONTHS). Only mark a field confirmed when the tenant agreed to it or stated it.
Report a viewing as booked only when a specific date and time were agreed. Give each item a confidence
between 0 and 1.`

type fieldExtraction struct {
	Field      string  `json:"field"`
	Confirmed  bool    `json:"confirmed"`
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

type viewingExtraction struct {
	Booked     bool    `json:"booked"`
	Date       *string `json:"date"`
	Time       *string `json:"time"`
	Notes      *string `json:"notes"`
	Confidence float64 `json:"confidence"`
}

type callOutcome struct {
	Successful     bool   `json:"successful"`
	Reason         string `json:"reason"`
	FollowUpNeeded bool   `json:"followUpNeeded"`
}

type extraction struct {
	Fields  []fieldExtraction `json:"fields"`
	Viewing viewingExtraction `json:"viewing"`
	Outcome callOutcome       `json:"outcome"`
}

func parseExtraction(raw string) (extraction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var out extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &out); err != nil {
		return extraction{}, fmt.Errorf("decode analysis: %w", err)
	}
	return out, nil
}

// toUpdate keeps the items at or above threshold. Values the lead stated are
// written (and so confirmed); bare confirmations only confirm.
func (e extraction) toUpdate(threshold float64) domain.EndOfCallUpdate {
	update := domain.EndOfCallUpdate{Values: map[domain.Field]string{}}

	for _, item := range e.Fields {
		field := domain.Field(strings.ToLower(strings.TrimSpace(item.Field)))
		if !field.IsTracked() || !item.Confirmed || item.Confidence < threshold {
			continue
		}
		if item.Value != nil && strings.TrimSpace(*item.Value) != "" {
			value := strings.TrimSpace(*item.Value)
			if field == domain.FieldContractLength {
				value = mapContractLength(value)
			}
			if _, err := domain.NormalizeValue(field, value); err == nil {
				update.Values[field] = value
				continue
			}
		}
		update.Confirm = append(update.Confirm, field)
	}

	if e.Viewing.Booked && e.Viewing.Confidence >= threshold {
		update.ViewingDate = nonEmpty(e.Viewing.Date)
		update.ViewingTime = nonEmpty(e.Viewing.Time)
		update.ViewingNotes = nonEmpty(e.Viewing.Notes)
	}

	if len(update.Values) == 0 {
		update.Values = nil
	}
	return update
}

// mapContractLength accepts loose phrasings like "12 months" or "6_months".
func mapContractLength(value string) string {
	upper := strings.ToUpper(strings.TrimSpace(value))
	for _, known := range domain.ContractLengths {
		if upper == string(known) {
			return upper
		}
	}
	switch {
	case strings.Contains(upper, "LESS") || strings.Contains(upper, "UNDER"):
		return string(domain.ContractLessThanSixMonths)
	case strings.Contains(upper, "MORE") || strings.Contains(upper, "OVER") || strings.Contains(upper, "18") || strings.Contains(upper, "24"):
		return string(domain.ContractMoreThanTwelve)
	case strings.Contains(upper, "12") || strings.Contains(upper, "YEAR"):
		return string(domain.ContractTwelveMonths)
	case strings.Contains(upper, "6") || strings.Contains(upper, "SIX"):
		return string(domain.ContractSixMonths)
	}
	return upper
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}

func buildPrompt(lead *domain.Lead, transcript string) string {
	var b strings.Builder
	b.WriteString("Existing information about this lead:\n")
	for _, f := range domain.TrackedFields {
		value, ok := lead.Fields.Value(f)
		if !ok {
			value = "not provided"
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", f, value, lead.Fields.Satisfaction(f))
	}
	fmt.Fprintf(&b, "- current phase: %s\n", lead.Phase)
	if lead.ViewingDate != nil || lead.ViewingTime != nil {
		fmt.Fprintf(&b, "- requested viewing: %s %s\n", derefOr(lead.ViewingDate), derefOr(lead.ViewingTime))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func derefOr(v *string) string {
	if v == nil {
		return "?"
	}
	return *v
}

func extractionSchema() *genai.Schema {
	fieldNames := make([]string, 0, len(domain.TrackedFields))
	for _, f := range domain.TrackedFields {
		fieldNames = append(fieldNames, string(f))
	}
	nullableString := &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true)}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"fields": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"field":      {Type: genai.TypeString, Enum: fieldNames},
						"confirmed":  {Type: genai.TypeBoolean},
						"value":      nullableString,
						"confidence": {Type: genai.TypeNumber},
					},
					Required: []string{"field", "confirmed", "confidence"},
				},
			},
			"viewing": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"booked":     {Type: genai.TypeBoolean},
					"date":       nullableString,
					"time":       nullableString,
					"notes":      nullableString,
					"confidence": {Type: genai.TypeNumber},
				},
				Required: []string{"booked", "confidence"},
			},
			"outcome": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"successful":     {Type: genai.TypeBoolean},
					"reason":         {Type: genai.TypeString},
					"followUpNeeded": {Type: genai.TypeBoolean},
				},
			},
		},
		Required: []string{"fields", "viewing", "outcome"},
	}
}
