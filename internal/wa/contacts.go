package wa

import (
	"go.mau.fi/whatsmeow/types"

	"github.com/matheus3301/rosterd/internal/roster"
)

// whatsappCaps is what every WhatsApp contact can do.
const whatsappCaps = roster.CapText | roster.CapAudio | roster.CapVideo

// ContactFromInfo maps a device store entry to a roster contact. The alias
// prefers the name saved on the phone over what the contact calls itself.
func ContactFromInfo(jid types.JID, info types.ContactInfo) roster.Contact {
	c := roster.Contact{
		Account:      AccountID,
		ID:           jid.String(),
		Alias:        alias(info),
		Presence:     roster.Presence{Type: roster.PresenceUnknown},
		Capabilities: whatsappCaps,
		// WhatsApp has no presence subscriptions; everyone on the list
		// sees each other.
		Auth: roster.Auth{Publish: roster.AuthYes, Subscribe: roster.AuthYes},
	}
	if jid.Server == types.DefaultUserServer && jid.User != "" {
		c.Info = append(c.Info, roster.InfoField{Kind: roster.InfoPhone, Value: "+" + jid.User})
	}
	if info.BusinessName != "" {
		c.Info = append(c.Info, roster.InfoField{Kind: roster.InfoTitle, Context: "work", Value: info.BusinessName})
	}
	return c
}

func alias(info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.PushName != "":
		return info.PushName
	default:
		return info.BusinessName
	}
}
