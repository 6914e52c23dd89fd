package domain

// Phase is a lead's position in the onboarding sequence.
type Phase string

const (
	PhaseNew            Phase = "NEW"
	PhaseConfirmInfo    Phase = "CONFIRM_INFO"
	PhaseBookingViewing Phase = "BOOKING_VIEWING"
	PhaseViewingBooked  Phase = "VIEWING_BOOKED"
)

var phaseOrder = []Phase{PhaseNew, PhaseConfirmInfo, PhaseBookingViewing, PhaseViewingBooked}

// ConfirmInfoRequired is the field set that must be present and confirmed to leave CONFIRM_INFO.
// Email is deliberately not part of it.
var ConfirmInfoRequired = []Field{
	FieldName,
	FieldBudget,
	FieldMoveInDate,
	FieldOccupation,
	FieldYearlyWage,
}

// Rank is the phase's index in the fixed order, or -1 for unknown values.
func (p Phase) Rank() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Rank() >= 0
}

// Next returns the phase immediately after p.
func (p Phase) Next() (Phase, bool) {
	rank := p.Rank()
	if rank < 0 || rank == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[rank+1], true
}

// IsTerminal reports whether no further transitions exist.
func (p Phase) IsTerminal() bool {
	return p == PhaseViewingBooked
}

// PhaseInfo is the result of a phase requirements check.
type PhaseInfo struct {
	CurrentPhase      Phase   `json:"currentPhase"`
	CanProgress       bool    `json:"canProgress"`
	MissingFields     []Field `json:"missingFields"`
	UnconfirmedFields []Field `json:"unconfirmedFields"`
	NextPhase         *Phase  `json:"nextPhase,omitempty"`
}

// CheckPhaseRequirements evaluates whether the lead may leave its current phase.
// hasViewing reports whether a PropertyViewing exists for the lead.
func CheckPhaseRequirements(lead *Lead, hasViewing bool) PhaseInfo {
	info := PhaseInfo{
		CurrentPhase:      lead.Phase,
		MissingFields:     []Field{},
		UnconfirmedFields: []Field{},
	}

	for _, status := range lead.Fields.IsSatisfied(ConfirmInfoRequired) {
		switch status.Satisfaction {
		case SatisfactionAbsent:
			info.MissingFields = append(info.MissingFields, status.Field)
		case SatisfactionUnconfirmed:
			info.UnconfirmedFields = append(info.UnconfirmedFields, status.Field)
		}
	}

	switch lead.Phase {
	case PhaseNew:
		info.CanProgress = true
	case PhaseConfirmInfo:
		info.CanProgress = len(info.MissingFields) == 0 && len(info.UnconfirmedFields) == 0
	case PhaseBookingViewing:
		info.CanProgress = hasViewing
		if !hasViewing {
			if lead.ViewingDate == nil {
				info.MissingFields = append(info.MissingFields, FieldViewingDate)
			}
			if lead.ViewingTime == nil {
				info.MissingFields = append(info.MissingFields, FieldViewingTime)
			}
		}
	}

	if info.CanProgress {
		if next, ok := lead.Phase.Next(); ok {
			info.NextPhase = &next
		} else {
			info.CanProgress = false
		}
	}

	return info
}

// Begin moves a freshly created lead from NEW into CONFIRM_INFO.
func (l *Lead) Begin() error {
	if l.Phase != PhaseNew {
		return ErrInvalidTransition
	}
	l.Phase = PhaseConfirmInfo
	return nil
}

// Advance applies every forward transition whose condition currently holds and
// returns the phase the lead started from. It never errors and never moves backwards;
// calling it again without an intervening mutation leaves the phase unchanged.
func (l *Lead) Advance(hasViewing bool) (from Phase, changed bool) {
	from = l.Phase
	for {
		switch {
		case l.Phase == PhaseConfirmInfo && CheckPhaseRequirements(l, hasViewing).CanProgress:
			l.Phase = PhaseBookingViewing
		case l.Phase == PhaseBookingViewing && hasViewing:
			l.Phase = PhaseViewingBooked
		default:
			return from, l.Phase != from
		}
	}
}
