package transport

import (
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
)

// Request DTOs

type FieldValue struct {
	Value     string `json:"value" validate:"required,min=1,max=200"`
	Confirmed bool   `json:"confirmed"`
}

type ContractLengthValue struct {
	Value     string `json:"value" validate:"required,oneof=LT_SIX_MONTHS SIX_MONTHS TWELVE_MONTHS GT_TWELVE_MONTHS"`
	Confirmed bool   `json:"confirmed"`
}

type CreateLeadRequest struct {
	Phone           string               `json:"phone" validate:"required,min=5,max=20,dialable"`
	Email           *string              `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Postcode        *string              `json:"postcode,omitempty" validate:"omitempty,min=2,max=10"`
	PropertyAddress *string              `json:"propertyAddress,omitempty" validate:"omitempty,min=1,max=300"`
	Name            *FieldValue          `json:"name,omitempty" validate:"omitempty"`
	Budget          *FieldValue          `json:"budget,omitempty" validate:"omitempty"`
	MoveInDate      *FieldValue          `json:"moveInDate,omitempty" validate:"omitempty"`
	Occupation      *FieldValue          `json:"occupation,omitempty" validate:"omitempty"`
	YearlyWage      *FieldValue          `json:"yearlyWage,omitempty" validate:"omitempty"`
	ContractLength  *ContractLengthValue `json:"contractLength,omitempty" validate:"omitempty"`
}

// TrackedFields maps the request onto the confirmation model.
func (r CreateLeadRequest) TrackedFields() map[domain.Field]domain.FieldInput {
	out := make(map[domain.Field]domain.FieldInput)
	add := func(f domain.Field, v *FieldValue) {
		if v != nil {
			out[f] = domain.FieldInput{Value: v.Value, Confirmed: v.Confirmed}
		}
	}
	add(domain.FieldName, r.Name)
	add(domain.FieldBudget, r.Budget)
	add(domain.FieldMoveInDate, r.MoveInDate)
	add(domain.FieldOccupation, r.Occupation)
	add(domain.FieldYearlyWage, r.YearlyWage)
	if r.ContractLength != nil {
		out[domain.FieldContractLength] = domain.FieldInput{Value: r.ContractLength.Value, Confirmed: r.ContractLength.Confirmed}
	}
	return out
}

type EndOfCallRequest struct {
	IdempotencyToken string            `json:"idempotencyToken" validate:"required,max=100"`
	Confirm          []string          `json:"confirm" validate:"omitempty,max=10,dive,oneof=name budget move_in_date occupation yearly_wage contract_length"`
	Values           map[string]string `json:"values" validate:"omitempty,max=10,dive,keys,oneof=name budget move_in_date occupation yearly_wage contract_length,endkeys,required,max=200"`
	ViewingDate      *string           `json:"viewingDate,omitempty" validate:"omitempty,min=1,max=40"`
	ViewingTime      *string           `json:"viewingTime,omitempty" validate:"omitempty,min=1,max=40"`
	ViewingNotes     *string           `json:"viewingNotes,omitempty" validate:"omitempty,max=500"`
}

// ContractLengthTag validates a contract length supplied through Values.
const ContractLengthTag = "oneof=LT_SIX_MONTHS SIX_MONTHS TWELVE_MONTHS GT_TWELVE_MONTHS"

// Update converts the request into a domain update.
func (r EndOfCallRequest) Update() domain.EndOfCallUpdate {
	update := domain.EndOfCallUpdate{
		ViewingDate:  r.ViewingDate,
		ViewingTime:  r.ViewingTime,
		ViewingNotes: r.ViewingNotes,
	}
	for _, f := range r.Confirm {
		update.Confirm = append(update.Confirm, domain.Field(f))
	}
	if len(r.Values) > 0 {
		update.Values = make(map[domain.Field]string, len(r.Values))
		for k, v := range r.Values {
			update.Values[domain.Field(k)] = v
		}
	}
	return update
}

// PersonalizationRequest is the voice provider's conversation initiation webhook.
type PersonalizationRequest struct {
	CallerID     string `json:"caller_id"`
	AgentID      string `json:"agent_id"`
	CalledNumber string `json:"called_number"`
	CallSID      string `json:"call_sid" validate:"required,max=64"`
}

// Response DTOs

type LeadResponse struct {
	ID              uuid.UUID       `json:"id"`
	Phone           string          `json:"phone"`
	Email           *string         `json:"email,omitempty"`
	Postcode        *string         `json:"postcode,omitempty"`
	PropertyAddress *string         `json:"propertyAddress,omitempty"`
	Phase           domain.Phase    `json:"phase"`
	Fields          domain.FieldSet `json:"fields"`
	PendingFields   []domain.Field  `json:"pendingFields"`
	ViewingDate     *string         `json:"viewingDate,omitempty"`
	ViewingTime     *string         `json:"viewingTime,omitempty"`
	ViewingNotes    *string         `json:"viewingNotes,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func ToLeadResponse(lead domain.Lead) LeadResponse {
	return LeadResponse{
		ID:              lead.ID,
		Phone:           lead.Phone,
		Email:           lead.Email,
		Postcode:        lead.Postcode,
		PropertyAddress: lead.PropertyAddress,
		Phase:           lead.Phase,
		Fields:          lead.Fields,
		PendingFields:   lead.PendingFields(),
		ViewingDate:     lead.ViewingDate,
		ViewingTime:     lead.ViewingTime,
		ViewingNotes:    lead.ViewingNotes,
		CreatedAt:       lead.CreatedAt,
		UpdatedAt:       lead.UpdatedAt,
	}
}

type ViewingResponse struct {
	ID              uuid.UUID `json:"id"`
	LeadID          uuid.UUID `json:"leadId"`
	ViewingDate     string    `json:"viewingDate"`
	ViewingTime     string    `json:"viewingTime"`
	PropertyAddress *string   `json:"propertyAddress,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

func ToViewingResponse(v domain.PropertyViewing) ViewingResponse {
	return ViewingResponse{
		ID:              v.ID,
		LeadID:          v.LeadID,
		ViewingDate:     v.ViewingDate,
		ViewingTime:     v.ViewingTime,
		PropertyAddress: v.PropertyAddress,
		Notes:           v.Notes,
		Status:          v.Status,
		CreatedAt:       v.CreatedAt,
	}
}

type CallResponse struct {
	ID              uuid.UUID         `json:"id"`
	LeadID          uuid.UUID         `json:"leadId"`
	Status          domain.CallStatus `json:"status"`
	ProviderCallSID *string           `json:"providerCallSid,omitempty"`
	ConversationID  *string           `json:"conversationId,omitempty"`
	SessionSource   *string           `json:"sessionSource,omitempty"`
	TranscriptKey   *string           `json:"transcriptKey,omitempty"`
	DurationSeconds *int              `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ToCallResponse leaves out the idempotency token; only the agent ever sees it.
func ToCallResponse(c domain.CallAttempt) CallResponse {
	return CallResponse{
		ID:              c.ID,
		LeadID:          c.LeadID,
		Status:          c.Status,
		ProviderCallSID: c.ProviderCallSID,
		ConversationID:  c.ConversationID,
		SessionSource:   c.SessionSource,
		TranscriptKey:   c.TranscriptKey,
		DurationSeconds: c.DurationSeconds,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

type CallListResponse struct {
	Items []CallResponse `json:"items"`
}

type CancelSessionResponse struct {
	Cancelled bool `json:"cancelled"`
}

// PersonalizationResponse primes the agent conversation for an inbound provider call.
type PersonalizationResponse struct {
	Type                       string                     `json:"type"`
	DynamicVariables           map[string]string          `json:"dynamic_variables"`
	ConversationConfigOverride ConversationConfigOverride `json:"conversation_config_override"`
}

type ConversationConfigOverride struct {
	Agent AgentOverride `json:"agent"`
}

type AgentOverride struct {
	Prompt       PromptOverride `json:"prompt"`
	FirstMessage string         `json:"first_message,omitempty"`
}

type PromptOverride struct {
	Prompt string `json:"prompt"`
}
