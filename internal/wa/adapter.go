package wa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/bus"
	"github.com/matheus3301/rosterd/internal/roster"

	_ "github.com/mattn/go-sqlite3"
)

// AccountID is the roster account the WhatsApp device is published as.
const AccountID = "whatsapp"

const avatarFetchTimeout = 30 * time.Second

// Adapter wraps the whatsmeow client and exposes the device's contact
// list as a roster.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	http      *http.Client
}

var _ Directory = (*Adapter)(nil)

// NewAdapter opens the whatsmeow device store at dbPath.
func NewAdapter(ctx context.Context, dbPath string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("rosterd", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logger.Named("wa"),
		http:      &http.Client{Timeout: avatarFetchTimeout},
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Self describes the linked device as a roster account.
func (a *Adapter) Self() roster.Account {
	return roster.Account{
		ID:        AccountID,
		Protocol:  "whatsapp",
		Address:   a.PhoneNumber(),
		Nickname:  a.client.Store.PushName,
		Presence:  roster.Presence{Type: roster.PresenceAvailable},
		Enabled:   true,
		HasRoster: true,
	}
}

// Contacts returns the device store's contact list with blocked contacts
// marked.
func (a *Adapter) Contacts(ctx context.Context) ([]roster.Contact, error) {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts from device store: %w", err)
	}

	blocked := make(map[types.JID]bool)
	if list, err := a.client.GetBlocklist(ctx); err != nil {
		a.logger.Warn("failed to fetch blocklist", zap.Error(err))
	} else if list != nil {
		for _, jid := range list.JIDs {
			blocked[a.ResolveLID(ctx, jid.ToNonAD())] = true
		}
	}

	contacts := make([]roster.Contact, 0, len(all))
	for jid, info := range all {
		jid = a.ResolveLID(ctx, jid.ToNonAD())
		c := ContactFromInfo(jid, info)
		c.Blocked = blocked[jid]
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// Avatar fetches the current profile picture of jid. A contact without a
// picture gets an avatar with an empty token.
func (a *Adapter) Avatar(ctx context.Context, jid types.JID) (*roster.Avatar, error) {
	info, err := a.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if errors.Is(err, whatsmeow.ErrProfilePictureNotSet) || (err == nil && info == nil) {
		return &roster.Avatar{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile picture: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build avatar request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download avatar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download avatar: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	return &roster.Avatar{Token: info.ID, MIME: resp.Header.Get("Content-Type"), Data: data}, nil
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
