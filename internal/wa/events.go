package wa

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/roster"
)

// Directory is the device-side view the handler reads when the connection
// comes up or a picture changes.
type Directory interface {
	Self() roster.Account
	Contacts(ctx context.Context) ([]roster.Contact, error)
	Avatar(ctx context.Context, jid types.JID) (*roster.Avatar, error)
}

// EventHandler turns whatsmeow events into roster registry updates. It
// never touches the graph store; the reconcile engine picks the changes up
// from the registry's bus events.
type EventHandler struct {
	reg    *roster.Registry
	dir    Directory
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventHandler creates a new event handler.
func NewEventHandler(reg *roster.Registry, dir Directory, logger *zap.Logger) *EventHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHandler{
		reg:    reg,
		dir:    dir,
		logger: logger.Named("wa"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close cancels in-flight avatar downloads and waits for them.
func (h *EventHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		h.handleConnected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.setConnected(false)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.reg.RemoveAccount(AccountID)
	case *events.Presence:
		h.handlePresence(evt)
	case *events.PushName:
		h.handlePushName(evt)
	case *events.Contact:
		h.handleContact(evt)
	case *events.Picture:
		h.handlePicture(evt)
	case *events.Blocklist:
		h.handleBlocklist(evt)
	}
}

func (h *EventHandler) handleConnected() {
	h.logger.Info("WhatsApp connected")
	h.setConnected(true)

	contacts, err := h.dir.Contacts(h.ctx)
	if err != nil {
		h.logger.Warn("failed to load contacts", zap.Error(err))
		return
	}
	h.reg.SetRoster(AccountID, contacts)
	h.logger.Info("roster loaded", zap.Int("contacts", len(contacts)))
}

func (h *EventHandler) setConnected(connected bool) {
	acc, ok := h.reg.Account(AccountID)
	if !ok || connected {
		acc = h.dir.Self()
	}
	acc.Connected = connected
	if !connected {
		acc.Presence = roster.Presence{Type: roster.PresenceOffline}
	}
	h.reg.UpsertAccount(acc)
}

// contact looks up a registry contact by JID.
func (h *EventHandler) contact(jid types.JID) (roster.Contact, bool) {
	return h.reg.Contact(AccountID, jid.ToNonAD().String())
}

func (h *EventHandler) handlePresence(evt *events.Presence) {
	c, ok := h.contact(evt.From)
	if !ok {
		return
	}
	if evt.Unavailable {
		c.Presence = roster.Presence{Type: roster.PresenceOffline, Since: evt.LastSeen}
	} else {
		c.Presence = roster.Presence{Type: roster.PresenceAvailable, Since: time.Now()}
	}
	h.reg.UpdateContact(c)
}

// handlePushName only overrides aliases that came from the old push name.
func (h *EventHandler) handlePushName(evt *events.PushName) {
	c, ok := h.contact(evt.JID)
	if !ok || (c.Alias != "" && c.Alias != evt.OldPushName) {
		return
	}
	c.Alias = evt.NewPushName
	h.reg.UpdateContact(c)
}

func (h *EventHandler) handleContact(evt *events.Contact) {
	name := evt.Action.GetFullName()
	if name == "" {
		name = evt.Action.GetFirstName()
	}
	c, ok := h.contact(evt.JID)
	if !ok {
		c = ContactFromInfo(evt.JID.ToNonAD(), types.ContactInfo{Found: true, FullName: name})
	}
	c.Alias = name
	h.reg.UpdateContact(c)
}

func (h *EventHandler) handleBlocklist(evt *events.Blocklist) {
	for _, change := range evt.Changes {
		c, ok := h.contact(change.JID)
		if !ok {
			continue
		}
		switch change.Action {
		case events.BlocklistChangeActionBlock:
			c.Blocked = true
		case events.BlocklistChangeActionUnblock:
			c.Blocked = false
		default:
			continue
		}
		h.reg.UpdateContact(c)
	}
}

// handlePicture records the new token right away and downloads the image in
// the background; the engine stores the avatar once the data arrives.
func (h *EventHandler) handlePicture(evt *events.Picture) {
	c, ok := h.contact(evt.JID)
	if !ok {
		return
	}
	if evt.Remove {
		c.Avatar = &roster.Avatar{}
		h.reg.UpdateContact(c)
		return
	}
	c.Avatar = &roster.Avatar{Token: evt.PictureID}
	h.reg.UpdateContact(c)

	jid := evt.JID.ToNonAD()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		av, err := h.dir.Avatar(h.ctx, jid)
		if err != nil {
			h.logger.Warn("failed to fetch avatar", zap.String("jid", jid.String()), zap.Error(err))
			return
		}
		cur, ok := h.contact(jid)
		if !ok {
			return
		}
		cur.Avatar = av
		h.reg.UpdateContact(cur)
	}()
}
