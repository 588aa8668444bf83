package wa

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/rosterd/internal/bus"
	"github.com/matheus3301/rosterd/internal/roster"
)

var (
	bobJID   = types.NewJID("15550001", types.DefaultUserServer)
	carolJID = types.NewJID("15550002", types.DefaultUserServer)
)

type fakeDirectory struct {
	contacts []roster.Contact
	err      error
	avatar   *roster.Avatar
}

func (d *fakeDirectory) Self() roster.Account {
	return roster.Account{ID: AccountID, Protocol: "whatsapp", Address: "15559999", Enabled: true, HasRoster: true}
}

func (d *fakeDirectory) Contacts(context.Context) ([]roster.Contact, error) {
	return d.contacts, d.err
}

func (d *fakeDirectory) Avatar(context.Context, types.JID) (*roster.Avatar, error) {
	if d.avatar == nil {
		return nil, errors.New("no avatar")
	}
	return d.avatar, nil
}

func newHandler(t *testing.T, dir *fakeDirectory) (*EventHandler, *roster.Registry, <-chan bus.Event) {
	t.Helper()
	b := bus.New()
	ch, unsub := b.Subscribe(roster.Namespace, 64)
	t.Cleanup(unsub)
	reg := roster.NewRegistry(b)
	h := NewEventHandler(reg, dir, zap.NewNop())
	t.Cleanup(h.Close)
	return h, reg, ch
}

func defaultDirectory() *fakeDirectory {
	return &fakeDirectory{contacts: []roster.Contact{
		ContactFromInfo(bobJID, types.ContactInfo{Found: true, FullName: "Bob"}),
		ContactFromInfo(carolJID, types.ContactInfo{Found: true, PushName: "carol"}),
	}}
}

func connected(t *testing.T, dir *fakeDirectory) (*EventHandler, *roster.Registry, <-chan bus.Event) {
	t.Helper()
	h, reg, ch := newHandler(t, dir)
	h.Handle(&events.Connected{})
	drain(ch)
	return h, reg, ch
}

func drain(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func recv(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return bus.Event{}
	}
}

func TestHandleConnectedLoadsRoster(t *testing.T) {
	h, reg, ch := newHandler(t, defaultDirectory())

	h.Handle(&events.Connected{})

	if evt := recv(t, ch); evt.Kind != roster.EventAccountAdded {
		t.Fatalf("kind = %s, want %s", evt.Kind, roster.EventAccountAdded)
	}
	evt := recv(t, ch)
	if evt.Kind != roster.EventRosterReady {
		t.Fatalf("kind = %s, want %s", evt.Kind, roster.EventRosterReady)
	}
	if got := evt.Payload.(roster.RosterEvent).Added; len(got) != 2 {
		t.Errorf("added = %v, want 2 contacts", got)
	}

	acc, ok := reg.Account(AccountID)
	if !ok || !acc.Connected {
		t.Fatalf("account = %+v, want connected", acc)
	}
	if !reg.RosterReady(AccountID) {
		t.Error("roster not ready after connect")
	}
}

func TestHandleConnectedContactsError(t *testing.T) {
	h, reg, _ := newHandler(t, &fakeDirectory{err: errors.New("db locked")})

	h.Handle(&events.Connected{})

	if _, ok := reg.Account(AccountID); !ok {
		t.Fatal("account missing")
	}
	if reg.RosterReady(AccountID) {
		t.Error("roster ready without contacts")
	}
}

func TestHandleDisconnected(t *testing.T) {
	h, reg, ch := connected(t, defaultDirectory())

	h.Handle(&events.Disconnected{})

	evt := recv(t, ch)
	if evt.Kind != roster.EventAccountChanged {
		t.Fatalf("kind = %s, want %s", evt.Kind, roster.EventAccountChanged)
	}
	acc, _ := reg.Account(AccountID)
	if acc.Connected {
		t.Error("account still connected")
	}
	if acc.Presence.Type != roster.PresenceOffline {
		t.Errorf("presence = %v, want offline", acc.Presence.Type)
	}
	if reg.RosterReady(AccountID) {
		t.Error("roster still ready after disconnect")
	}
}

func TestHandleLoggedOut(t *testing.T) {
	h, reg, ch := connected(t, defaultDirectory())

	h.Handle(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	if evt := recv(t, ch); evt.Kind != roster.EventAccountRemoved {
		t.Fatalf("kind = %s, want %s", evt.Kind, roster.EventAccountRemoved)
	}
	if _, ok := reg.Account(AccountID); ok {
		t.Error("account still present")
	}
}

func TestHandlePresence(t *testing.T) {
	h, reg, ch := connected(t, defaultDirectory())
	lastSeen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	h.Handle(&events.Presence{From: bobJID, Unavailable: true, LastSeen: lastSeen})

	evt := recv(t, ch)
	ce, ok := evt.Payload.(roster.ContactEvent)
	if !ok || !ce.Changes.Has(roster.ContactPresence) {
		t.Fatalf("event = %+v, want presence change", evt.Payload)
	}
	c, _ := reg.Contact(AccountID, bobJID.String())
	if c.Presence.Type != roster.PresenceOffline || !c.Presence.Since.Equal(lastSeen) {
		t.Errorf("presence = %+v", c.Presence)
	}

	h.Handle(&events.Presence{From: types.NewJID("999", types.DefaultUserServer)})
	drain(ch)
}

func TestHandlePushName(t *testing.T) {
	h, reg, _ := connected(t, defaultDirectory())

	h.Handle(&events.PushName{JID: carolJID, OldPushName: "carol", NewPushName: "Carol C"})
	h.Handle(&events.PushName{JID: bobJID, OldPushName: "bobby", NewPushName: "B"})

	if c, _ := reg.Contact(AccountID, carolJID.String()); c.Alias != "Carol C" {
		t.Errorf("carol alias = %q, want Carol C", c.Alias)
	}
	if c, _ := reg.Contact(AccountID, bobJID.String()); c.Alias != "Bob" {
		t.Errorf("bob alias = %q, want saved name kept", c.Alias)
	}
}

func TestHandleContactAction(t *testing.T) {
	h, reg, ch := connected(t, defaultDirectory())
	dave := types.NewJID("15550003", types.DefaultUserServer)

	h.Handle(&events.Contact{JID: dave, Action: &waSyncAction.ContactAction{FullName: proto.String("Dave")}})

	evt := recv(t, ch)
	re, ok := evt.Payload.(roster.RosterEvent)
	if !ok || len(re.Added) != 1 || re.Added[0] != dave.String() {
		t.Fatalf("event = %+v, want dave added", evt.Payload)
	}
	if c, _ := reg.Contact(AccountID, dave.String()); c.Alias != "Dave" {
		t.Errorf("alias = %q, want Dave", c.Alias)
	}

	h.Handle(&events.Contact{JID: bobJID, Action: &waSyncAction.ContactAction{FullName: proto.String("Robert")}})
	if c, _ := reg.Contact(AccountID, bobJID.String()); c.Alias != "Robert" {
		t.Errorf("alias = %q, want Robert", c.Alias)
	}
}

func TestHandleBlocklist(t *testing.T) {
	h, _, ch := connected(t, defaultDirectory())

	h.Handle(&events.Blocklist{Changes: []events.BlocklistChange{
		{JID: bobJID, Action: events.BlocklistChangeActionBlock},
	}})
	evt := recv(t, ch)
	if re, ok := evt.Payload.(roster.RosterEvent); !ok || len(re.Removed) != 1 {
		t.Fatalf("event = %+v, want bob removed", evt.Payload)
	}

	h.Handle(&events.Blocklist{Changes: []events.BlocklistChange{
		{JID: bobJID, Action: events.BlocklistChangeActionUnblock},
	}})
	evt = recv(t, ch)
	if re, ok := evt.Payload.(roster.RosterEvent); !ok || len(re.Added) != 1 {
		t.Fatalf("event = %+v, want bob added", evt.Payload)
	}
}

func TestHandlePicture(t *testing.T) {
	dir := defaultDirectory()
	dir.avatar = &roster.Avatar{Token: "p1", MIME: "image/jpeg", Data: []byte("jpeg")}
	h, reg, _ := connected(t, dir)

	h.Handle(&events.Picture{JID: bobJID, PictureID: "p1"})
	h.Close()

	c, _ := reg.Contact(AccountID, bobJID.String())
	if c.Avatar == nil || c.Avatar.Token != "p1" || string(c.Avatar.Data) != "jpeg" {
		t.Fatalf("avatar = %+v, want fetched p1", c.Avatar)
	}

	h.Handle(&events.Picture{JID: bobJID, Remove: true})
	c, _ = reg.Contact(AccountID, bobJID.String())
	if c.Avatar == nil || c.Avatar.Token != "" {
		t.Errorf("avatar = %+v, want cleared", c.Avatar)
	}
}

func TestContactFromInfo(t *testing.T) {
	tests := []struct {
		name  string
		info  types.ContactInfo
		alias string
	}{
		{"full name wins", types.ContactInfo{FullName: "Full", FirstName: "First", PushName: "push"}, "Full"},
		{"first name", types.ContactInfo{FirstName: "First", PushName: "push"}, "First"},
		{"push name", types.ContactInfo{PushName: "push"}, "push"},
		{"business", types.ContactInfo{BusinessName: "Shop"}, "Shop"},
		{"nothing", types.ContactInfo{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ContactFromInfo(bobJID, tt.info)
			if c.Alias != tt.alias {
				t.Errorf("alias = %q, want %q", c.Alias, tt.alias)
			}
			if c.ID != bobJID.String() || c.Account != AccountID {
				t.Errorf("identity = %s/%s", c.Account, c.ID)
			}
			if len(c.Info) == 0 || c.Info[0].Kind != roster.InfoPhone || c.Info[0].Value != "+15550001" {
				t.Errorf("info = %+v, want phone first", c.Info)
			}
		})
	}
}
