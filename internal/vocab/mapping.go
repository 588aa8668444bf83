package vocab

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/roster"
)

// Presence values.
var (
	PresenceUnknown      = p("presence-status-unknown")
	PresenceOffline      = p("presence-status-offline")
	PresenceAvailable    = p("presence-status-available")
	PresenceAway         = p("presence-status-away")
	PresenceExtendedAway = p("presence-status-extended-away")
	PresenceHidden       = p("presence-status-hidden")
	PresenceBusy         = p("presence-status-busy")
	PresenceError        = p("presence-status-error")
)

// Capability values.
var (
	CapabilityText  = p("im-capability-text-chat")
	CapabilityAudio = p("im-capability-audio-calls")
	CapabilityVideo = p("im-capability-video-calls")
)

// Authorization values.
var (
	AuthNo        = p("predefined-auth-status-no")
	AuthRequested = p("predefined-auth-status-requested")
	AuthYes       = p("predefined-auth-status-yes")
	AuthError     = p("predefined-auth-status-error")
)

var presenceByType = map[roster.PresenceType]graph.Term{
	roster.PresenceUnset:        PresenceUnknown,
	roster.PresenceOffline:      PresenceOffline,
	roster.PresenceAvailable:    PresenceAvailable,
	roster.PresenceAway:         PresenceAway,
	roster.PresenceExtendedAway: PresenceExtendedAway,
	roster.PresenceHidden:       PresenceHidden,
	roster.PresenceBusy:         PresenceBusy,
	roster.PresenceUnknown:      PresenceUnknown,
	roster.PresenceError:        PresenceError,
}

var presenceByStatus = map[string]graph.Term{
	"offline":   PresenceOffline,
	"available": PresenceAvailable,
	"away":      PresenceAway,
	"xa":        PresenceExtendedAway,
	"dnd":       PresenceBusy,
	"busy":      PresenceBusy,
	"hidden":    PresenceHidden,
	"unknown":   PresenceUnknown,
}

var authByState = map[roster.AuthState]graph.Term{
	roster.AuthNo:            AuthNo,
	roster.AuthRemotePending: AuthRequested,
	roster.AuthAsk:           AuthRequested,
	roster.AuthYes:           AuthYes,
}

var capabilityTerms = []struct {
	flag roster.Capabilities
	term graph.Term
}{
	{roster.CapText, CapabilityText},
	{roster.CapAudio, CapabilityAudio},
	{roster.CapVideo, CapabilityVideo},
}

var affiliationLabels = map[string]string{
	"home":  "Home",
	"work":  "Work",
	"other": "Other",
}

// Mapper converts roster values into vocabulary terms. Values with no
// mapping are logged and mapped to the error sentinel of their table.
type Mapper struct {
	log *zap.Logger
}

// NewMapper creates a mapper that reports unmapped values to log.
func NewMapper(log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{log: log.Named("vocab")}
}

// PresenceType maps a presence type.
func (m *Mapper) PresenceType(t roster.PresenceType) graph.Term {
	if term, ok := presenceByType[t]; ok {
		return term
	}
	m.log.Warn("unmapped presence type", zap.Uint8("type", uint8(t)))
	return PresenceError
}

// PresenceStatus maps a source-specific status string such as "xa".
func (m *Mapper) PresenceStatus(status string) graph.Term {
	if term, ok := presenceByStatus[strings.ToLower(status)]; ok {
		return term
	}
	m.log.Warn("unmapped presence status", zap.String("status", status))
	return PresenceError
}

// Presence maps a full presence. The type wins; the status string is
// consulted only when the type is unset.
func (m *Mapper) Presence(pr roster.Presence) graph.Term {
	if pr.Type == roster.PresenceUnset && pr.Status != "" {
		return m.PresenceStatus(pr.Status)
	}
	return m.PresenceType(pr.Type)
}

// Capabilities lists the capability terms set in c.
func (m *Mapper) Capabilities(c roster.Capabilities) []graph.Term {
	var out []graph.Term
	known := roster.Capabilities(0)
	for _, ct := range capabilityTerms {
		known |= ct.flag
		if c.Has(ct.flag) {
			out = append(out, ct.term)
		}
	}
	if extra := c &^ known; extra != 0 {
		m.log.Warn("unmapped capability flags", zap.Uint8("flags", uint8(extra)))
	}
	return out
}

// Auth maps one subscription direction.
func (m *Mapper) Auth(s roster.AuthState) graph.Term {
	if term, ok := authByState[s]; ok {
		return term
	}
	if s != roster.AuthUnknown {
		m.log.Warn("unmapped authorization state", zap.Uint8("state", uint8(s)))
	}
	return AuthError
}

// AffiliationLabel returns the display label of an affiliation context.
func AffiliationLabel(context string) string {
	if l, ok := affiliationLabels[strings.ToLower(context)]; ok {
		return l
	}
	return affiliationLabels["other"]
}
