package reconcile

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/graph"
	"github.com/matheus3301/rosterd/internal/roster"
	"github.com/matheus3301/rosterd/internal/vocab"
)

// mutableAddressFields are the address predicates a full sync drops before
// rewriting. Avatars are kept: a contact whose avatar is unknown keeps the
// stored one.
var mutableAddressFields = []graph.Term{
	vocab.IMNickname,
	vocab.IMPresence,
	vocab.IMStatusMessage,
	vocab.PresenceModified,
	vocab.IMCapability,
	vocab.AuthStatusFrom,
	vocab.AuthStatusTo,
}

// writeContact adds the statements for the changed kinds of one contact.
// Unresolved contacts get a new person carrying the ownership marker.
func (e *Engine) writeContact(u *graph.Update, c roster.Contact, r resolution, changes roster.ContactChange, now time.Time) {
	acc := vocab.AccountIRI(c.Account)
	addr := r.Address
	person := r.Person
	if !r.Resolved {
		person = vocab.PersonIRI(c.Account, c.ID)
		u.CreateEntity(person, vocab.PersonContact, vocab.DefaultGraph)
		u.Insert(person, vocab.ContactLocalUID, graph.Literal(vocab.LocalID(c.Account, c.ID)), vocab.DefaultGraph)
		u.Insert(person, vocab.Generator, graph.Literal(e.cfg.Generator), vocab.DefaultGraph)
		u.Insert(person, vocab.ContentCreated, graph.Time(now), vocab.DefaultGraph)
	}
	u.CreateEntity(addr, vocab.IMAddress, vocab.DefaultGraph)
	u.Insert(addr, vocab.IMID, graph.Literal(c.ID), vocab.DefaultGraph)
	u.Insert(acc, vocab.HasIMContact, addr, vocab.PrivateGraph)
	u.Delete(person, vocab.ContentLastModified, graph.Any, vocab.DefaultGraph)
	u.Insert(person, vocab.ContentLastModified, graph.Time(now), vocab.DefaultGraph)

	if changes.Has(roster.ContactAlias) {
		e.writeNickname(u, addr, c.Alias)
	}
	if changes.Has(roster.ContactPresence) {
		e.writePresence(u, addr, c.Presence, now)
	}
	if changes.Has(roster.ContactCapabilities) {
		u.Delete(addr, vocab.IMCapability, graph.Any, vocab.DefaultGraph)
		for _, t := range e.mapper.Capabilities(c.Capabilities) {
			u.Insert(addr, vocab.IMCapability, t, vocab.DefaultGraph)
		}
	}
	if changes.Has(roster.ContactAuthorization) {
		u.Delete(addr, vocab.AuthStatusFrom, graph.Any, vocab.DefaultGraph)
		u.Delete(addr, vocab.AuthStatusTo, graph.Any, vocab.DefaultGraph)
		u.Insert(addr, vocab.AuthStatusFrom, e.mapper.Auth(c.Auth.Subscribe), vocab.DefaultGraph)
		u.Insert(addr, vocab.AuthStatusTo, e.mapper.Auth(c.Auth.Publish), vocab.DefaultGraph)
	}
	if changes.Has(roster.ContactAvatar) {
		e.writeAvatar(u, addr, c.Avatar)
	}
	if changes.Has(roster.ContactInformation) || !r.Resolved {
		writeScope(u, c, addr, person)
	}
}

func (e *Engine) writeNickname(u *graph.Update, addr graph.Term, nickname string) {
	u.Delete(addr, vocab.IMNickname, graph.Any, vocab.DefaultGraph)
	if nickname != "" {
		u.Insert(addr, vocab.IMNickname, graph.Literal(nickname), vocab.DefaultGraph)
	}
}

func (e *Engine) writePresence(u *graph.Update, addr graph.Term, p roster.Presence, now time.Time) {
	u.Delete(addr, vocab.IMPresence, graph.Any, vocab.DefaultGraph)
	u.Delete(addr, vocab.IMStatusMessage, graph.Any, vocab.DefaultGraph)
	u.Delete(addr, vocab.PresenceModified, graph.Any, vocab.DefaultGraph)
	u.Insert(addr, vocab.IMPresence, e.mapper.Presence(p), vocab.DefaultGraph)
	if p.Message != "" {
		u.Insert(addr, vocab.IMStatusMessage, graph.Literal(p.Message), vocab.DefaultGraph)
	}
	since := p.Since
	if since.IsZero() {
		since = now
	}
	u.Insert(addr, vocab.PresenceModified, graph.Time(since), vocab.DefaultGraph)
}

// writeAvatar replaces the avatar of subject. A nil avatar is unknown and
// leaves the stored one alone; a token whose image has not arrived yet waits
// for a later update.
func (e *Engine) writeAvatar(u *graph.Update, subject graph.Term, av *roster.Avatar) {
	switch {
	case av == nil:
		return
	case av.Token == "":
		u.DeleteAndUnlink(subject, vocab.IMAvatar)
		return
	case av.Data == nil:
		return
	}
	u.DeleteAndUnlink(subject, vocab.IMAvatar)
	if e.avatars == nil {
		return
	}
	path, err := e.avatars.Save(av.Data)
	if err != nil {
		e.log.Warn("failed to save avatar, clearing it",
			zap.String("subject", subject.Value),
			zap.String("token", av.Token),
			zap.Error(err))
		return
	}
	file := vocab.FileIRI(path)
	u.CreateEntity(file, vocab.FileDataObject, vocab.DefaultGraph)
	u.Insert(file, vocab.DataURL, graph.Literal(file.Value), vocab.DefaultGraph)
	u.Insert(subject, vocab.IMAvatar, file, vocab.DefaultGraph)
}

// writeScope rewrites the contact's own partition: the affiliation carrying
// its address and the vCard-like info fields.
func writeScope(u *graph.Update, c roster.Contact, addr, person graph.Term) {
	g := vocab.ContactGraph(c.Account, c.ID)
	u.DeleteGraph(g)

	affiliations := make(map[string]graph.Term)
	affiliation := func(context string) graph.Term {
		key := context
		if key == "" {
			key = "other"
		}
		if aff, ok := affiliations[key]; ok {
			return aff
		}
		aff := vocab.AffiliationIRI(addr, key)
		affiliations[key] = aff
		u.CreateEntity(aff, vocab.Affiliation, g)
		u.Insert(aff, vocab.Label, graph.Literal(vocab.AffiliationLabel(key)), g)
		u.Insert(person, vocab.HasAffiliation, aff, g)
		return aff
	}
	u.Insert(affiliation(""), vocab.HasIMAddress, addr, g)

	for _, f := range c.Info {
		switch f.Kind {
		case roster.InfoPhone:
			writeInfoEntity(u, g, affiliation(f.Context), vocab.PhoneNumber, vocab.HasPhoneNumber, vocab.PhoneNumberValue, f.Value)
		case roster.InfoPostal:
			writeInfoEntity(u, g, affiliation(f.Context), vocab.PostalAddress, vocab.HasPostalAddress, vocab.StreetAddress, f.Value)
		case roster.InfoEmail:
			writeInfoEntity(u, g, affiliation(f.Context), vocab.EmailAddress, vocab.HasEmailAddress, vocab.EmailAddressValue, f.Value)
		case roster.InfoURL:
			u.Insert(affiliation(f.Context), vocab.URL, graph.Literal(f.Value), g)
		case roster.InfoTitle:
			u.Insert(affiliation(f.Context), vocab.Title, graph.Literal(f.Value), g)
		case roster.InfoRole:
			u.Insert(affiliation(f.Context), vocab.Role, graph.Literal(f.Value), g)
		case roster.InfoNote:
			u.Insert(person, vocab.Note, graph.Literal(f.Value), g)
		case roster.InfoBirthday:
			u.Insert(person, vocab.BirthDate, graph.Literal(f.Value), g)
		}
	}
}

func writeInfoEntity(u *graph.Update, g, aff graph.Term, class string, link, value graph.Term, v string) {
	id := vocab.InfoIRI()
	u.CreateEntity(id, class, g)
	u.Insert(id, value, graph.Literal(v), g)
	u.Insert(aff, link, id, g)
}
