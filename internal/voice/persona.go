package voice

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"lettings_backend/internal/leads/domain"
)

//go:embed persona.yaml
var defaultPersonaYAML []byte

// Persona is the agent's voice and the prompt it is primed with.
type Persona struct {
	AgentName    string `yaml:"agent_name"`
	Company      string `yaml:"company"`
	ViewingHours struct {
		Days  string `yaml:"days"`
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"viewing_hours"`
	FirstMessages map[string]string `yaml:"first_messages"`
	SystemPrompt  string            `yaml:"system_prompt"`

	systemTmpl *template.Template
	firstTmpls map[string]*template.Template
}

// DefaultPersona parses the embedded persona.
func DefaultPersona() (*Persona, error) {
	return ParsePersona(defaultPersonaYAML)
}

// ParsePersona parses and compiles a persona document.
func ParsePersona(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return nil, fmt.Errorf("parse persona: system_prompt is required")
	}
	if _, ok := p.FirstMessages["default"]; !ok {
		return nil, fmt.Errorf("parse persona: default first message is required")
	}

	tmpl, err := template.New("system_prompt").Option("missingkey=zero").Parse(p.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("parse persona system prompt: %w", err)
	}
	p.systemTmpl = tmpl

	p.firstTmpls = make(map[string]*template.Template, len(p.FirstMessages))
	for phase, text := range p.FirstMessages {
		t, err := template.New(phase).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse persona first message %s: %w", phase, err)
		}
		p.firstTmpls[phase] = t
	}
	return &p, nil
}

type promptData struct {
	AgentName       string
	Company         string
	Name            string
	Phase           string
	PendingList     string
	ViewingDays     string
	ViewingStart    string
	ViewingEnd      string
	ViewingDate     string
	ViewingTime     string
	PropertyAddress string
	Lead            map[string]string
}

// BuildSessionContext renders the session context for a call to lead.
// callToken is empty for pre-warmed sessions that have no call yet.
func (p *Persona) BuildSessionContext(lead *domain.Lead, callToken string) (SessionContext, error) {
	pending := lead.PendingFields()
	pendingNames := make([]string, 0, len(pending))
	for _, f := range pending {
		pendingNames = append(pendingNames, string(f))
	}

	vars := DynamicVariables(lead, callToken)

	data := promptData{
		AgentName:       p.AgentName,
		Company:         p.Company,
		Name:            lead.DisplayName(),
		Phase:           string(lead.Phase),
		PendingList:     humanList(pendingNames),
		ViewingDays:     p.ViewingHours.Days,
		ViewingStart:    p.ViewingHours.Start,
		ViewingEnd:      p.ViewingHours.End,
		ViewingDate:     deref(lead.ViewingDate, "the scheduled date"),
		ViewingTime:     deref(lead.ViewingTime, "the scheduled time"),
		PropertyAddress: deref(lead.PropertyAddress, ""),
		Lead:            vars,
	}

	var system bytes.Buffer
	if err := p.systemTmpl.Execute(&system, data); err != nil {
		return SessionContext{}, fmt.Errorf("render system prompt: %w", err)
	}

	first, ok := p.firstTmpls[string(lead.Phase)]
	if !ok {
		first = p.firstTmpls["default"]
	}
	var greeting bytes.Buffer
	if err := first.Execute(&greeting, data); err != nil {
		return SessionContext{}, fmt.Errorf("render first message: %w", err)
	}

	return SessionContext{
		LeadID:           lead.ID,
		CallToken:        callToken,
		DynamicVariables: vars,
		SystemPrompt:     strings.TrimSpace(system.String()),
		FirstMessage:     greeting.String(),
		PendingFields:    pendingNames,
	}, nil
}

// DynamicVariables flattens the lead into the agent's template variables.
// Empty values are left out.
func DynamicVariables(lead *domain.Lead, callToken string) map[string]string {
	vars := map[string]string{
		"lead_id":       lead.ID.String(),
		"customer_name": lead.DisplayName(),
		"current_phase": string(lead.Phase),
	}
	if callToken != "" {
		vars["call_token"] = callToken
	}
	for _, f := range domain.TrackedFields {
		if f == domain.FieldName {
			continue
		}
		if v, ok := lead.Fields.Value(f); ok {
			vars[string(f)] = v
		}
	}
	if name, ok := lead.Fields.Value(domain.FieldName); ok {
		vars["name"] = name
	}
	pending := lead.PendingFields()
	if len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for _, f := range pending {
			names = append(names, string(f))
		}
		vars["pending_fields"] = strings.Join(names, ",")
	}
	if lead.PropertyAddress != nil && *lead.PropertyAddress != "" {
		vars["property_address"] = *lead.PropertyAddress
	}
	if lead.ViewingDate != nil {
		vars["viewing_date"] = *lead.ViewingDate
	}
	if lead.ViewingTime != nil {
		vars["viewing_time"] = *lead.ViewingTime
	}
	return vars
}

func humanList(items []string) string {
	if len(items) == 0 {
		return "(nothing outstanding)"
	}
	readable := make([]string, len(items))
	for i, item := range items {
		readable[i] = strings.ReplaceAll(item, "_", " ")
	}
	if len(readable) == 1 {
		return readable[0]
	}
	return strings.Join(readable[:len(readable)-1], ", ") + " and " + readable[len(readable)-1]
}

func deref(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
