// Package vocab holds the graph vocabulary rosterd writes: class and
// predicate IRIs, entity naming schemes and the tables mapping roster
// values onto vocabulary terms.
package vocab

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/matheus3301/rosterd/internal/graph"
)

const (
	NCO  = "http://www.semanticdesktop.org/ontologies/2007/03/22/nco#"
	NIE  = "http://www.semanticdesktop.org/ontologies/2007/01/19/nie#"
	NFO  = "http://www.semanticdesktop.org/ontologies/2007/03/22/nfo#"
	RDFS = "http://www.w3.org/2000/01/rdf-schema#"
)

// Classes.
const (
	PersonContact  = NCO + "PersonContact"
	IMAddress      = NCO + "IMAddress"
	IMAccount      = NCO + "IMAccount"
	Affiliation    = NCO + "Affiliation"
	PhoneNumber    = NCO + "PhoneNumber"
	PostalAddress  = NCO + "PostalAddress"
	EmailAddress   = NCO + "EmailAddress"
	FileDataObject = NFO + "FileDataObject"
)

func p(local string) graph.Term { return graph.IRI(NCO + local) }

// Predicates.
var (
	Type = graph.IRI(graph.RDFType)

	HasIMContact        = p("hasIMContact")
	IMAccountAddress    = p("imAccountAddress")
	IMAccountType       = p("imAccountType")
	IMDisplayName       = p("imDisplayName")
	IMEnabled           = p("imEnabled")
	HasIMAddress        = p("hasIMAddress")
	HasAffiliation      = p("hasAffiliation")
	IMID                = p("imID")
	IMNickname          = p("imNickname")
	IMPresence          = p("imPresence")
	IMStatusMessage     = p("imStatusMessage")
	PresenceModified    = p("presenceLastModified")
	IMCapability        = p("imCapability")
	IMAvatar            = p("imAvatar")
	AuthStatusFrom      = p("imAddressAuthStatusFrom")
	AuthStatusTo        = p("imAddressAuthStatusTo")
	ContactLocalUID     = p("contactLocalUID")
	HasPhoneNumber      = p("hasPhoneNumber")
	PhoneNumberValue    = p("phoneNumber")
	HasPostalAddress    = p("hasPostalAddress")
	StreetAddress       = p("streetAddress")
	HasEmailAddress     = p("hasEmailAddress")
	EmailAddressValue   = p("emailAddress")
	URL                 = p("url")
	Title               = p("title")
	Role                = p("role")
	Note                = p("note")
	BirthDate           = p("birthDate")
	Label               = graph.IRI(RDFS + "label")
	Generator           = graph.IRI(NIE + "generator")
	ContentLastModified = graph.IRI(NIE + "contentLastModified")
	ContentCreated      = graph.IRI(NIE + "contentCreated")
	DataURL             = graph.IRI(NIE + "url")
)

// MeContact is the person entity that owns every account's self address.
var MeContact = graph.IRI(NCO + "default-contact-me")

// Partitions.
var (
	DefaultGraph = graph.IRI("urn:rosterd:graph")
	PrivateGraph = graph.IRI("urn:rosterd:graph:private")
)

const (
	accountScheme = "telepathy:"
	personScheme  = "contact:"
)

// Account IDs are escaped so that "!" and "#" only ever act as separators.
var (
	accountEscaper   = strings.NewReplacer("%", "%25", "!", "%21", "#", "%23")
	accountUnescaper = strings.NewReplacer("%25", "%", "%21", "!", "%23", "#")
)

func accountSegment(account string) string {
	return accountEscaper.Replace(account)
}

// AccountIRI names the account entity.
func AccountIRI(account string) graph.Term {
	return graph.IRI(accountScheme + accountSegment(account))
}

// AddressIRI names the IM address of a contact. The same IRI names the
// contact's own partition.
func AddressIRI(account, contact string) graph.Term {
	return graph.IRI(accountScheme + accountSegment(account) + "!" + contact)
}

// SelfAddressIRI names the account's own IM address.
func SelfAddressIRI(account string) graph.Term {
	return graph.IRI(accountScheme + accountSegment(account) + "#self")
}

// ContactGraph is the partition holding everything rosterd writes for one
// contact.
func ContactGraph(account, contact string) graph.Term {
	return AddressIRI(account, contact)
}

// ParseAddressIRI splits an address IRI back into account and contact.
func ParseAddressIRI(iri string) (account, contact string, ok bool) {
	rest, found := strings.CutPrefix(iri, accountScheme)
	if !found {
		return "", "", false
	}
	account, contact, ok = strings.Cut(rest, "!")
	if !ok {
		return "", "", false
	}
	return accountUnescaper.Replace(account), contact, true
}

// ParseAccountIRI returns the account ID of an account IRI.
func ParseAccountIRI(iri string) (string, bool) {
	rest, found := strings.CutPrefix(iri, accountScheme)
	if !found || strings.ContainsAny(rest, "!#") {
		return "", false
	}
	return accountUnescaper.Replace(rest), true
}

// LocalID derives a stable person identifier from a contact identity.
func LocalID(account, contact string) string {
	sum := blake3.Sum256([]byte(accountSegment(account) + "!" + contact))
	return hex.EncodeToString(sum[:16])
}

// PersonIRI names the person entity rosterd creates for a contact.
func PersonIRI(account, contact string) graph.Term {
	return graph.IRI(personScheme + LocalID(account, contact))
}

// AffiliationIRI names the affiliation linking a person to address in the
// given context ("home", "work" or "other").
func AffiliationIRI(address graph.Term, context string) graph.Term {
	if context == "" {
		context = "other"
	}
	return graph.IRI(address.Value + "#affiliation-" + context)
}

// InfoIRI returns a fresh name for an info sub-entity.
func InfoIRI() graph.Term {
	return graph.IRI("urn:uuid:" + uuid.NewString())
}

// FileIRI names a local file entity.
func FileIRI(path string) graph.Term {
	return graph.IRI((&url.URL{Scheme: "file", Path: path}).String())
}
