package roster

import (
	"slices"
	"strings"
)

// ContactChange is a set of contact field kinds that changed.
type ContactChange uint16

const (
	ContactAlias ContactChange = 1 << iota
	ContactPresence
	ContactCapabilities
	ContactAvatar
	ContactAuthorization
	ContactInformation
	ContactBlocking

	ContactAll = ContactAlias | ContactPresence | ContactCapabilities | ContactAvatar |
		ContactAuthorization | ContactInformation | ContactBlocking
)

var contactChangeNames = []struct {
	bit  ContactChange
	name string
}{
	{ContactAlias, "alias"},
	{ContactPresence, "presence"},
	{ContactCapabilities, "capabilities"},
	{ContactAvatar, "avatar"},
	{ContactAuthorization, "authorization"},
	{ContactInformation, "information"},
	{ContactBlocking, "blocking"},
}

func (c ContactChange) Has(bits ContactChange) bool { return c&bits != 0 }

func (c ContactChange) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range contactChangeNames {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// AccountChange is a set of account field kinds that changed.
type AccountChange uint16

const (
	AccountDisplayName AccountChange = 1 << iota
	AccountNickname
	AccountPresence
	AccountAvatar
	AccountEnabled
	AccountRoster

	AccountAll = AccountDisplayName | AccountNickname | AccountPresence | AccountAvatar |
		AccountEnabled | AccountRoster
)

var accountChangeNames = []struct {
	bit  AccountChange
	name string
}{
	{AccountDisplayName, "display_name"},
	{AccountNickname, "nickname"},
	{AccountPresence, "presence"},
	{AccountAvatar, "avatar"},
	{AccountEnabled, "enabled"},
	{AccountRoster, "roster"},
}

func (c AccountChange) Has(bits AccountChange) bool { return c&bits != 0 }

func (c AccountChange) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range accountChangeNames {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// DiffAccount returns the kinds of fields that differ between old and cur.
// A change in connectivity or roster support is reported as AccountRoster.
func DiffAccount(old, cur Account) AccountChange {
	var c AccountChange
	if old.DisplayName != cur.DisplayName {
		c |= AccountDisplayName
	}
	if old.Nickname != cur.Nickname {
		c |= AccountNickname
	}
	if !samePresence(old.Presence, cur.Presence) {
		c |= AccountPresence
	}
	if !sameAvatar(old.Avatar, cur.Avatar) {
		c |= AccountAvatar
	}
	if old.Enabled != cur.Enabled {
		c |= AccountEnabled
	}
	if old.Connected != cur.Connected || old.HasRoster != cur.HasRoster {
		c |= AccountRoster
	}
	return c
}

// DiffContact returns the kinds of fields that differ between old and cur.
func DiffContact(old, cur Contact) ContactChange {
	var c ContactChange
	if old.Alias != cur.Alias {
		c |= ContactAlias
	}
	if !samePresence(old.Presence, cur.Presence) {
		c |= ContactPresence
	}
	if old.Capabilities != cur.Capabilities {
		c |= ContactCapabilities
	}
	if !sameAvatar(old.Avatar, cur.Avatar) {
		c |= ContactAvatar
	}
	if old.Auth != cur.Auth {
		c |= ContactAuthorization
	}
	if !slices.Equal(old.Info, cur.Info) {
		c |= ContactInformation
	}
	if old.Blocked != cur.Blocked {
		c |= ContactBlocking
	}
	return c
}

func samePresence(a, b Presence) bool {
	return a.Type == b.Type && a.Status == b.Status && a.Message == b.Message
}

func sameAvatar(a, b *Avatar) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Token == b.Token && (a.Data == nil) == (b.Data == nil)
}
