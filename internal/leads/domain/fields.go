package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"lettings_backend/platform/sanitize"
)

// Field names a tracked lead attribute whose confirmation state matters to the lifecycle.
type Field string

const (
	FieldName           Field = "name"
	FieldBudget         Field = "budget"
	FieldMoveInDate     Field = "move_in_date"
	FieldOccupation     Field = "occupation"
	FieldYearlyWage     Field = "yearly_wage"
	FieldContractLength Field = "contract_length"

	// Viewing attributes are reported by phase checks but are not part of the confirmation model.
	FieldViewingDate Field = "viewing_date"
	FieldViewingTime Field = "viewing_time"
)

// TrackedFields lists every field held by a FieldSet, in presentation order.
var TrackedFields = []Field{
	FieldName,
	FieldBudget,
	FieldMoveInDate,
	FieldOccupation,
	FieldYearlyWage,
	FieldContractLength,
}

// IsTracked reports whether f belongs to the confirmation model.
func (f Field) IsTracked() bool {
	for _, tracked := range TrackedFields {
		if tracked == f {
			return true
		}
	}
	return false
}

// ContractLength is the categorical tenancy length a lead is after.
type ContractLength string

const (
	ContractLessThanSixMonths ContractLength = "LT_SIX_MONTHS"
	ContractSixMonths         ContractLength = "SIX_MONTHS"
	ContractTwelveMonths      ContractLength = "TWELVE_MONTHS"
	ContractMoreThanTwelve    ContractLength = "GT_TWELVE_MONTHS"
)

// ContractLengths is the closed set of accepted contract lengths.
var ContractLengths = []ContractLength{
	ContractLessThanSixMonths,
	ContractSixMonths,
	ContractTwelveMonths,
	ContractMoreThanTwelve,
}

const maxTextValueLength = 200

// NormalizeValue canonicalises a raw value for the given field.
// Money fields become plain positive integers, text fields are sanitised.
func NormalizeValue(f Field, raw string) (string, error) {
	switch f {
	case FieldBudget, FieldYearlyWage:
		cleaned := strings.NewReplacer("£", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
		cleaned = strings.TrimSuffix(cleaned, ".00")
		amount, err := strconv.Atoi(cleaned)
		if err != nil || amount <= 0 {
			return "", fmt.Errorf("%w: %s must be a positive whole amount", ErrInvalidValue, f)
		}
		return strconv.Itoa(amount), nil
	case FieldContractLength:
		candidate := ContractLength(strings.ToUpper(strings.TrimSpace(raw)))
		for _, allowed := range ContractLengths {
			if candidate == allowed {
				return string(candidate), nil
			}
		}
		return "", fmt.Errorf("%w: unknown contract length %q", ErrInvalidValue, raw)
	case FieldName, FieldMoveInDate, FieldOccupation:
		text := sanitize.Text(raw)
		if text == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrInvalidValue, f)
		}
		if len(text) > maxTextValueLength {
			return "", fmt.Errorf("%w: %s is too long", ErrInvalidValue, f)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
}

// Satisfaction is the state of a single field relative to a requirement.
type Satisfaction string

const (
	SatisfactionConfirmed   Satisfaction = "confirmed"
	SatisfactionUnconfirmed Satisfaction = "unconfirmed"
	SatisfactionAbsent      Satisfaction = "absent"
)

// FieldState is the value and confirmation flag held for one field.
type FieldState struct {
	Value     *string `json:"value,omitempty"`
	Confirmed bool    `json:"confirmed"`
}

// Present reports whether a value has been collected.
func (s FieldState) Present() bool {
	return s.Value != nil
}

// FieldStatus pairs a field with its satisfaction.
type FieldStatus struct {
	Field        Field
	Satisfaction Satisfaction
}

// FieldSet is the confirmation model of a lead: field name to {value, confirmed}.
// Confirmation is monotonic; no operation clears a confirmed flag.
type FieldSet struct {
	states map[Field]FieldState
}

// NewFieldSet returns an empty confirmation model.
func NewFieldSet() FieldSet {
	return FieldSet{states: make(map[Field]FieldState)}
}

func (s *FieldSet) ensure() {
	if s.states == nil {
		s.states = make(map[Field]FieldState)
	}
}

// Seed records a collected value without confirming it. Used for intake data
// that the agent still has to verify with the lead.
func (s *FieldSet) Seed(f Field, raw string) error {
	if !f.IsTracked() {
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	value, err := NormalizeValue(f, raw)
	if err != nil {
		return err
	}
	s.ensure()
	current := s.states[f]
	s.states[f] = FieldState{Value: &value, Confirmed: current.Confirmed}
	return nil
}

// SetValue stores a value and marks it confirmed.
func (s *FieldSet) SetValue(f Field, raw string) error {
	if !f.IsTracked() {
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	value, err := NormalizeValue(f, raw)
	if err != nil {
		return err
	}
	s.ensure()
	s.states[f] = FieldState{Value: &value, Confirmed: true}
	return nil
}

// Confirm marks an already present field as confirmed.
func (s *FieldSet) Confirm(f Field) error {
	if !f.IsTracked() {
		return fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	current, ok := s.states[f]
	if !ok || !current.Present() {
		return fmt.Errorf("%w: cannot confirm absent field %s", ErrInvalidTransition, f)
	}
	current.Confirmed = true
	s.states[f] = current
	return nil
}

// State returns the state held for f. Absent fields return the zero state.
func (s FieldSet) State(f Field) FieldState {
	return s.states[f]
}

// Value returns the value of f if present.
func (s FieldSet) Value(f Field) (string, bool) {
	state := s.states[f]
	if state.Value == nil {
		return "", false
	}
	return *state.Value, true
}

// Satisfaction reports the satisfaction of a single field.
func (s FieldSet) Satisfaction(f Field) Satisfaction {
	state := s.states[f]
	switch {
	case !state.Present():
		return SatisfactionAbsent
	case state.Confirmed:
		return SatisfactionConfirmed
	default:
		return SatisfactionUnconfirmed
	}
}

// IsSatisfied reports the satisfaction of each required field, in the order given.
func (s FieldSet) IsSatisfied(required []Field) []FieldStatus {
	out := make([]FieldStatus, 0, len(required))
	for _, f := range required {
		out = append(out, FieldStatus{Field: f, Satisfaction: s.Satisfaction(f)})
	}
	return out
}

// Clone returns a deep copy.
func (s FieldSet) Clone() FieldSet {
	out := NewFieldSet()
	for f, state := range s.states {
		if state.Value != nil {
			v := *state.Value
			state.Value = &v
		}
		out.states[f] = state
	}
	return out
}

// MarshalJSON encodes the set as an object keyed by field name.
func (s FieldSet) MarshalJSON() ([]byte, error) {
	if s.states == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.states)
}

// UnmarshalJSON decodes an object keyed by field name, dropping unknown fields.
func (s *FieldSet) UnmarshalJSON(data []byte) error {
	raw := make(map[Field]FieldState)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.states = make(map[Field]FieldState, len(raw))
	for f, state := range raw {
		if f.IsTracked() {
			s.states[f] = state
		}
	}
	return nil
}
