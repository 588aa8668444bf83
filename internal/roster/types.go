// Package roster models the live side of the system: accounts, their
// contacts and the change notifications sources publish about them.
package roster

import (
	"slices"
	"time"
)

// PresenceType is the coarse presence state reported by a source.
type PresenceType uint8

const (
	PresenceUnset PresenceType = iota
	PresenceOffline
	PresenceAvailable
	PresenceAway
	PresenceExtendedAway
	PresenceHidden
	PresenceBusy
	PresenceUnknown
	PresenceError
)

// Presence is a presence state plus the free-form status a source reports.
type Presence struct {
	Type    PresenceType
	Status  string
	Message string
	Since   time.Time
}

// Capabilities is a set of communication capabilities.
type Capabilities uint8

const (
	CapText Capabilities = 1 << iota
	CapAudio
	CapVideo
)

// Has reports whether every capability in c2 is set.
func (c Capabilities) Has(c2 Capabilities) bool { return c&c2 == c2 }

// AuthState is one direction of a presence subscription.
type AuthState uint8

const (
	AuthUnknown AuthState = iota
	AuthNo
	AuthRemotePending
	AuthAsk
	AuthYes
)

// Auth holds both subscription directions. Publish is local to remote,
// Subscribe is remote to local.
type Auth struct {
	Publish   AuthState
	Subscribe AuthState
}

// Avatar identifies an avatar image. An empty Token means the contact has
// no avatar; a Token without Data has not been fetched yet.
type Avatar struct {
	Token string
	MIME  string
	Data  []byte
}

// InfoKind is the kind of a contact info field.
type InfoKind uint8

const (
	InfoPhone InfoKind = iota + 1
	InfoPostal
	InfoEmail
	InfoURL
	InfoTitle
	InfoRole
	InfoNote
	InfoBirthday
)

var infoKindNames = map[InfoKind]string{
	InfoPhone:    "phone",
	InfoPostal:   "postal",
	InfoEmail:    "email",
	InfoURL:      "url",
	InfoTitle:    "title",
	InfoRole:     "role",
	InfoNote:     "note",
	InfoBirthday: "birthday",
}

func (k InfoKind) String() string {
	if s, ok := infoKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseInfoKind maps a name such as "phone" back to its kind.
func ParseInfoKind(s string) (InfoKind, bool) {
	for k, name := range infoKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// InfoField is one vCard-like field. Context is the affiliation it belongs
// to ("home", "work" or empty for other).
type InfoField struct {
	Kind    InfoKind
	Context string
	Value   string
}

// Account is a messaging account observed by a source.
type Account struct {
	ID          string
	Protocol    string
	Address     string
	DisplayName string
	Nickname    string
	Presence    Presence
	Avatar      *Avatar
	Enabled     bool
	HasRoster   bool
	Connected   bool
}

// Contact is one roster entry of an account. (Account, ID) is its identity.
type Contact struct {
	Account      string
	ID           string
	Alias        string
	Presence     Presence
	Capabilities Capabilities
	Avatar       *Avatar
	Auth         Auth
	Info         []InfoField
	Blocked      bool
	Removed      bool
}

// Visible reports whether the contact belongs in the persisted roster.
func (c Contact) Visible() bool { return !c.Blocked && !c.Removed }

// Clone returns a copy that shares no slices with c.
func (c Contact) Clone() Contact {
	c.Info = slices.Clone(c.Info)
	if c.Avatar != nil {
		a := *c.Avatar
		c.Avatar = &a
	}
	return c
}

// Source gives synchronous access to the live roster.
type Source interface {
	Accounts() []Account
	Account(id string) (Account, bool)
	Contacts(account string) []Contact
	Contact(account, id string) (Contact, bool)
	RosterReady(account string) bool
}
