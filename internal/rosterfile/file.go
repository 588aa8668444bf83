// Package rosterfile is a roster source backed by YAML files, one per
// account, in a watched directory.
package rosterfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matheus3301/rosterd/internal/roster"
)

// File is the YAML document describing one account and its roster.
type File struct {
	Account  AccountSpec   `yaml:"account"`
	Contacts []ContactSpec `yaml:"contacts"`
}

type AccountSpec struct {
	ID          string       `yaml:"id"`
	Protocol    string       `yaml:"protocol"`
	Address     string       `yaml:"address"`
	DisplayName string       `yaml:"display_name"`
	Nickname    string       `yaml:"nickname"`
	Enabled     *bool        `yaml:"enabled"`
	Connected   *bool        `yaml:"connected"`
	HasRoster   *bool        `yaml:"has_roster"`
	Presence    PresenceSpec `yaml:"presence"`
	Avatar      *AvatarSpec  `yaml:"avatar"`
}

type ContactSpec struct {
	ID           string       `yaml:"id"`
	Alias        string       `yaml:"alias"`
	Presence     PresenceSpec `yaml:"presence"`
	Capabilities []string     `yaml:"capabilities"`
	Auth         AuthSpec     `yaml:"auth"`
	Avatar       *AvatarSpec  `yaml:"avatar"`
	Blocked      bool         `yaml:"blocked"`
	Info         []InfoSpec   `yaml:"info"`
}

type PresenceSpec struct {
	Type    string    `yaml:"type"`
	Status  string    `yaml:"status"`
	Message string    `yaml:"message"`
	Since   time.Time `yaml:"since"`
}

type AuthSpec struct {
	Publish   string `yaml:"publish"`
	Subscribe string `yaml:"subscribe"`
}

// AvatarSpec names an avatar. File is read relative to the roster file; an
// empty token clears the avatar.
type AvatarSpec struct {
	Token string `yaml:"token"`
	MIME  string `yaml:"mime"`
	File  string `yaml:"file"`
}

type InfoSpec struct {
	Kind    string `yaml:"kind"`
	Context string `yaml:"context"`
	Value   string `yaml:"value"`
}

var presenceTypes = map[string]roster.PresenceType{
	"":              roster.PresenceUnset,
	"offline":       roster.PresenceOffline,
	"available":     roster.PresenceAvailable,
	"away":          roster.PresenceAway,
	"extended_away": roster.PresenceExtendedAway,
	"hidden":        roster.PresenceHidden,
	"busy":          roster.PresenceBusy,
	"unknown":       roster.PresenceUnknown,
	"error":         roster.PresenceError,
}

var authStates = map[string]roster.AuthState{
	"":               roster.AuthUnknown,
	"no":             roster.AuthNo,
	"remote_pending": roster.AuthRemotePending,
	"ask":            roster.AuthAsk,
	"yes":            roster.AuthYes,
}

var capabilities = map[string]roster.Capabilities{
	"text":  roster.CapText,
	"audio": roster.CapAudio,
	"video": roster.CapVideo,
}

// Load reads and validates a roster file. Unknown fields are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if f.Account.ID == "" {
		f.Account.ID = AccountID(path)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

// AccountID derives the default account ID from a file name.
func AccountID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (f *File) validate() error {
	var errs []error
	if _, ok := presenceTypes[f.Account.Presence.Type]; !ok {
		errs = append(errs, fmt.Errorf("account presence %q", f.Account.Presence.Type))
	}
	seen := make(map[string]bool)
	for i, c := range f.Contacts {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("contact %d has no id", i))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("duplicate contact %q", c.ID))
		}
		seen[c.ID] = true
		if _, ok := presenceTypes[c.Presence.Type]; !ok {
			errs = append(errs, fmt.Errorf("contact %q: presence %q", c.ID, c.Presence.Type))
		}
		for _, s := range []string{c.Auth.Publish, c.Auth.Subscribe} {
			if _, ok := authStates[s]; !ok {
				errs = append(errs, fmt.Errorf("contact %q: authorization %q", c.ID, s))
			}
		}
		for _, name := range c.Capabilities {
			if _, ok := capabilities[name]; !ok {
				errs = append(errs, fmt.Errorf("contact %q: capability %q", c.ID, name))
			}
		}
		for _, info := range c.Info {
			if _, ok := roster.ParseInfoKind(info.Kind); !ok {
				errs = append(errs, fmt.Errorf("contact %q: info kind %q", c.ID, info.Kind))
			}
		}
	}
	return errors.Join(errs...)
}

func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (p PresenceSpec) presence() roster.Presence {
	return roster.Presence{
		Type:    presenceTypes[p.Type],
		Status:  p.Status,
		Message: p.Message,
		Since:   p.Since,
	}
}

// avatar resolves the entry against dir. A file that cannot be read yet is
// reported as not fetched.
func (a *AvatarSpec) avatar(dir string) *roster.Avatar {
	if a == nil {
		return nil
	}
	av := &roster.Avatar{Token: a.Token, MIME: a.MIME}
	if a.Token == "" || a.File == "" {
		return av
	}
	path := a.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if data, err := os.ReadFile(path); err == nil {
		av.Data = data
	}
	return av
}

// RosterAccount converts the account section. Files are online with a
// roster unless they say otherwise.
func (f *File) RosterAccount(dir string) roster.Account {
	a := f.Account
	return roster.Account{
		ID:          a.ID,
		Protocol:    a.Protocol,
		Address:     a.Address,
		DisplayName: a.DisplayName,
		Nickname:    a.Nickname,
		Presence:    a.Presence.presence(),
		Avatar:      a.Avatar.avatar(dir),
		Enabled:     flag(a.Enabled, true),
		Connected:   flag(a.Connected, true),
		HasRoster:   flag(a.HasRoster, true),
	}
}

// RosterContacts converts the contacts section.
func (f *File) RosterContacts(dir string) []roster.Contact {
	out := make([]roster.Contact, 0, len(f.Contacts))
	for _, c := range f.Contacts {
		var caps roster.Capabilities
		for _, name := range c.Capabilities {
			caps |= capabilities[name]
		}
		var info []roster.InfoField
		for _, i := range c.Info {
			kind, _ := roster.ParseInfoKind(i.Kind)
			info = append(info, roster.InfoField{Kind: kind, Context: i.Context, Value: i.Value})
		}
		out = append(out, roster.Contact{
			Account:      f.Account.ID,
			ID:           c.ID,
			Alias:        c.Alias,
			Presence:     c.Presence.presence(),
			Capabilities: caps,
			Auth:         roster.Auth{Publish: authStates[c.Auth.Publish], Subscribe: authStates[c.Auth.Subscribe]},
			Avatar:       c.Avatar.avatar(dir),
			Info:         info,
			Blocked:      c.Blocked,
		})
	}
	return out
}
