// Package ports defines the interfaces the lead lifecycle needs from other
// modules. Concrete implementations are injected by the composition root.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lettings_backend/internal/leads/domain"
	"lettings_backend/internal/sessions"
	"lettings_backend/internal/telephony"
	"lettings_backend/internal/voice"
)

// SessionPool hands pre-warmed voice sessions to answered calls.
type SessionPool interface {
	Prewarm(sc voice.SessionContext)
	Claim(leadID uuid.UUID) (*sessions.Session, error)
	Establish(ctx context.Context, sc voice.SessionContext) (*sessions.Session, error)
	Release(sessionID uuid.UUID)
	Cancel(leadID uuid.UUID) bool
}

// CallPlacer dials a lead through the telephony provider.
type CallPlacer interface {
	PlaceCall(ctx context.Context, callID uuid.UUID, to string) (telephony.PlacedCall, error)
	Hangup(ctx context.Context, callSID string) error
}

// SessionContextStore keeps the per-call session context for the voice
// provider's personalization webhook.
type SessionContextStore interface {
	Put(ctx context.Context, callID uuid.UUID, sc voice.SessionContext) error
	Get(ctx context.Context, callID uuid.UUID) (voice.SessionContext, error)
	Delete(ctx context.Context, callID uuid.UUID) error
}

// TranscriptArchive stores call transcripts.
type TranscriptArchive interface {
	Archive(ctx context.Context, leadID, callID uuid.UUID, transcript string) (string, error)
}

// TranscriptAnalyzer turns a transcript into an end-of-call update.
type TranscriptAnalyzer interface {
	Analyze(ctx context.Context, lead *domain.Lead, transcript string) (domain.EndOfCallUpdate, error)
}

// CallScheduler defers the automatic first call of a new lead.
type CallScheduler interface {
	ScheduleLeadCall(ctx context.Context, leadID uuid.UUID, runAt time.Time) error
}

// SessionContextBuilder renders the voice agent's context for a lead.
type SessionContextBuilder interface {
	BuildSessionContext(lead *domain.Lead, callToken string) (voice.SessionContext, error)
}
