package roster

// Event kinds published on the bus under the "roster." namespace.
const (
	Namespace = "roster."

	EventAccountAdded   = "roster.account_added"
	EventAccountChanged = "roster.account_changed"
	EventAccountRemoved = "roster.account_removed"
	EventRosterReady    = "roster.roster_ready"
	EventRosterUpdated  = "roster.roster_updated"
	EventContactChanged = "roster.contact_changed"
)

// AccountEvent is the payload of account events.
type AccountEvent struct {
	Account string
	Changes AccountChange
}

// RosterEvent is the payload of roster_ready and roster_updated. On
// roster_ready Added holds the full roster. Blocked contacts are reported
// as removed and unblocked ones as added.
type RosterEvent struct {
	Account string
	Added   []string
	Removed []string
}

// ContactEvent is the payload of contact_changed.
type ContactEvent struct {
	Account string
	Contact string
	Changes ContactChange
}
