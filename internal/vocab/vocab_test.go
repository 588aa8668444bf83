package vocab

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/roster"
)

func observedMapper() (*Mapper, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return NewMapper(zap.New(core)), logs
}

func TestPresenceTypeTable(t *testing.T) {
	m, logs := observedMapper()
	tests := []struct {
		in   roster.PresenceType
		want graph.Term
	}{
		{roster.PresenceUnset, PresenceUnknown},
		{roster.PresenceOffline, PresenceOffline},
		{roster.PresenceAvailable, PresenceAvailable},
		{roster.PresenceAway, PresenceAway},
		{roster.PresenceExtendedAway, PresenceExtendedAway},
		{roster.PresenceHidden, PresenceHidden},
		{roster.PresenceBusy, PresenceBusy},
		{roster.PresenceUnknown, PresenceUnknown},
		{roster.PresenceError, PresenceError},
	}
	for _, tt := range tests {
		if got := m.PresenceType(tt.in); got != tt.want {
			t.Errorf("PresenceType(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if logs.Len() != 0 {
		t.Errorf("mapped values logged %d warnings", logs.Len())
	}

	if got := m.PresenceType(roster.PresenceType(200)); got != PresenceError {
		t.Errorf("unknown type = %s, want error sentinel", got)
	}
	if logs.Len() != 1 {
		t.Errorf("unmapped type logged %d warnings, want 1", logs.Len())
	}
}

func TestPresenceStatusTable(t *testing.T) {
	m, logs := observedMapper()
	tests := map[string]graph.Term{
		"offline":   PresenceOffline,
		"available": PresenceAvailable,
		"away":      PresenceAway,
		"xa":        PresenceExtendedAway,
		"dnd":       PresenceBusy,
		"busy":      PresenceBusy,
		"hidden":    PresenceHidden,
		"unknown":   PresenceUnknown,
		"Away":      PresenceAway,
		"chatty":    PresenceError,
	}
	for in, want := range tests {
		if got := m.PresenceStatus(in); got != want {
			t.Errorf("PresenceStatus(%q) = %s, want %s", in, got, want)
		}
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d warnings, want 1", logs.Len())
	}
}

func TestPresencePrefersType(t *testing.T) {
	m, _ := observedMapper()
	if got := m.Presence(roster.Presence{Type: roster.PresenceBusy, Status: "away"}); got != PresenceBusy {
		t.Errorf("got %s, want busy", got)
	}
	if got := m.Presence(roster.Presence{Status: "xa"}); got != PresenceExtendedAway {
		t.Errorf("got %s, want extended away", got)
	}
	if got := m.Presence(roster.Presence{}); got != PresenceUnknown {
		t.Errorf("got %s, want unknown", got)
	}
}

func TestCapabilities(t *testing.T) {
	m, logs := observedMapper()
	got := m.Capabilities(roster.CapText | roster.CapVideo | roster.Capabilities(0x80))
	if len(got) != 2 || got[0] != CapabilityText || got[1] != CapabilityVideo {
		t.Errorf("Capabilities = %v", got)
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d warnings, want 1", logs.Len())
	}
	if got := m.Capabilities(0); len(got) != 0 {
		t.Errorf("no capabilities = %v", got)
	}
}

func TestAuth(t *testing.T) {
	m, logs := observedMapper()
	tests := []struct {
		in   roster.AuthState
		want graph.Term
	}{
		{roster.AuthNo, AuthNo},
		{roster.AuthRemotePending, AuthRequested},
		{roster.AuthAsk, AuthRequested},
		{roster.AuthYes, AuthYes},
		{roster.AuthUnknown, AuthError},
		{roster.AuthState(99), AuthError},
	}
	for _, tt := range tests {
		if got := m.Auth(tt.in); got != tt.want {
			t.Errorf("Auth(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d warnings, want 1 (unknown state is not logged)", logs.Len())
	}
}

func TestAccountSeparatorsRoundTrip(t *testing.T) {
	tests := []struct{ account, contact string }{
		{"a!b", "c"},
		{"a", "b!c"},
		{"work#1", "bob"},
		{"100%21", "x"},
	}
	seen := make(map[string]bool)
	for _, tt := range tests {
		addr := AddressIRI(tt.account, tt.contact)
		if seen[addr.Value] {
			t.Errorf("AddressIRI(%q, %q) = %s collides", tt.account, tt.contact, addr)
		}
		seen[addr.Value] = true

		acc, contact, ok := ParseAddressIRI(addr.Value)
		if !ok || acc != tt.account || contact != tt.contact {
			t.Errorf("ParseAddressIRI(%s) = %q %q %v", addr, acc, contact, ok)
		}
		if id, ok := ParseAccountIRI(AccountIRI(tt.account).Value); !ok || id != tt.account {
			t.Errorf("ParseAccountIRI(AccountIRI(%q)) = %q %v", tt.account, id, ok)
		}
		if _, ok := ParseAccountIRI(SelfAddressIRI(tt.account).Value); ok {
			t.Errorf("self address of %q parsed as an account", tt.account)
		}
	}
	if PersonIRI("a!b", "c") == PersonIRI("a", "b!c") {
		t.Error("PersonIRI collides across the account separator")
	}
}

func TestIRIs(t *testing.T) {
	addr := AddressIRI("/acc/1", "bob@example.com")
	if addr.Value != "telepathy:/acc/1!bob@example.com" {
		t.Errorf("AddressIRI = %s", addr)
	}
	acc, contact, ok := ParseAddressIRI(addr.Value)
	if !ok || acc != "/acc/1" || contact != "bob@example.com" {
		t.Errorf("ParseAddressIRI = %q %q %v", acc, contact, ok)
	}
	if _, _, ok := ParseAddressIRI("contact:abc"); ok {
		t.Error("ParseAddressIRI accepted a person IRI")
	}
	if id, ok := ParseAccountIRI(AccountIRI("/acc/1").Value); !ok || id != "/acc/1" {
		t.Errorf("ParseAccountIRI = %q %v", id, ok)
	}
	if _, ok := ParseAccountIRI(addr.Value); ok {
		t.Error("ParseAccountIRI accepted an address IRI")
	}
	if _, ok := ParseAccountIRI(SelfAddressIRI("acc").Value); ok {
		t.Error("ParseAccountIRI accepted a self address IRI")
	}

	if PersonIRI("a", "b") != PersonIRI("a", "b") {
		t.Error("PersonIRI not deterministic")
	}
	if PersonIRI("a", "b") == PersonIRI("a", "c") {
		t.Error("PersonIRI collision")
	}
	if got := len(LocalID("a", "b")); got != 32 {
		t.Errorf("LocalID length = %d, want 32", got)
	}

	if got := AffiliationIRI(addr, "").Value; got != addr.Value+"#affiliation-other" {
		t.Errorf("AffiliationIRI = %s", got)
	}
	if InfoIRI() == InfoIRI() {
		t.Error("InfoIRI repeated")
	}
	if got := FileIRI("/tmp/a b").Value; got != "file:///tmp/a%20b" {
		t.Errorf("FileIRI = %s", got)
	}
}

func TestOwnership(t *testing.T) {
	if got := OwnershipOf(graph.Term{}, DefaultGenerator); got != Unmarked {
		t.Errorf("no generator = %s", got)
	}
	if got := OwnershipOf(graph.Literal(DefaultGenerator), DefaultGenerator); got != Owned {
		t.Errorf("own generator = %s", got)
	}
	if got := OwnershipOf(graph.Literal("addressbook"), DefaultGenerator); got != Foreign {
		t.Errorf("other generator = %s", got)
	}
}

func TestAffiliationLabel(t *testing.T) {
	for in, want := range map[string]string{"home": "Home", "WORK": "Work", "": "Other", "x": "Other"} {
		if got := AffiliationLabel(in); got != want {
			t.Errorf("AffiliationLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
