// Package target implements the scan's seed target: its declared aliases
// and the scope-matching rules modules use to decide whether an
// observation is on-target (§3 Target, GLOSSARY "Scope").
package target

import (
	"net"
	"strings"
)

// Type is the seed's kind. The vocabulary is open but these are the values
// named in §3.
type Type string

const (
	TypeInternetName    Type = "INTERNET_NAME"
	TypeIPAddress       Type = "IP_ADDRESS"
	TypeIPv6Address     Type = "IPV6_ADDRESS"
	TypeNetblockOwner   Type = "NETBLOCK_OWNER"
	TypeNetblockMember  Type = "NETBLOCK_MEMBER"
	TypeEmailAddr       Type = "EMAILADDR"
	TypePhoneNumber     Type = "PHONE_NUMBER"
	TypeHumanName       Type = "HUMAN_NAME"
	TypeUsername        Type = "USERNAME"
	TypeBitcoinAddress  Type = "BITCOIN_ADDRESS"
)

// entityTypes is the set of event type names that also denote a target
// entity and are therefore subject to scope admission; derived findings
// outside this set ride on already-admitted data (§3 Target).
var entityTypes = map[Type]bool{
	TypeInternetName:   true,
	TypeIPAddress:      true,
	TypeIPv6Address:    true,
	TypeNetblockOwner:  true,
	TypeNetblockMember: true,
	TypeEmailAddr:      true,
	TypePhoneNumber:    true,
	TypeHumanName:      true,
	TypeUsername:       true,
	TypeBitcoinAddress: true,
}

// IsEntityType reports whether eventType names one of the target entity
// types subject to scope admission.
func IsEntityType(eventType string) bool {
	return entityTypes[Type(eventType)]
}

// Alias is a (type, value) pair the target is also known by.
type Alias struct {
	Type  Type
	Value string
}

// Target is the seed of a scan: its canonical value, type, declared
// aliases, and the scope-inclusion flags that widen matching to parent or
// child domains.
type Target struct {
	Value   string
	Type    Type
	Aliases []Alias

	// IncludeParentDomains also admits ancestor domains of the seed (e.g.
	// a seed of "www.example.com" also admits "example.com").
	IncludeParentDomains bool

	// IncludeChildDomains also admits descendant subdomains of the seed.
	IncludeChildDomains bool
}

// Option configures a Target at construction time.
type Option func(*Target)

// WithParentDomains enables parent-domain scope inclusion.
func WithParentDomains() Option {
	return func(t *Target) { t.IncludeParentDomains = true }
}

// WithChildDomains enables child-domain scope inclusion.
func WithChildDomains() Option {
	return func(t *Target) { t.IncludeChildDomains = true }
}

// New builds a Target for value/typ, applying any options.
func New(value string, typ Type, opts ...Option) *Target {
	t := &Target{Value: value, Type: typ}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// AddAlias records another (type, value) this target is also known by.
func (t *Target) AddAlias(typ Type, value string) {
	t.Aliases = append(t.Aliases, Alias{Type: typ, Value: value})
}

// Matches reports whether value (of typ) is within scope of this target,
// per §3's target match semantics: exact alias match on name/address
// aliases, CIDR containment for NETBLOCK_* seeds, and optional parent/
// child domain inclusion.
func (t *Target) Matches(value string, typ Type) bool {
	if t == nil {
		return false
	}

	if t.exactMatch(value, typ) {
		return true
	}

	if t.netblockContains(value, typ) {
		return true
	}

	if t.domainScopeMatch(value, typ) {
		return true
	}

	return false
}

func (t *Target) exactMatch(value string, typ Type) bool {
	if typ == t.Type && strings.EqualFold(value, t.Value) {
		return true
	}

	for _, a := range t.Aliases {
		if a.Type == typ && strings.EqualFold(a.Value, value) {
			return true
		}
	}

	return false
}

// netblockContains reports whether value parses as an IP contained in the
// seed's (or an alias's) CIDR, when the seed is a netblock type.
func (t *Target) netblockContains(value string, typ Type) bool {
	if typ != TypeIPAddress && typ != TypeIPv6Address {
		return false
	}

	ip := net.ParseIP(value)
	if ip == nil {
		return false
	}

	candidates := make([]string, 0, len(t.Aliases)+1)
	if t.Type == TypeNetblockOwner || t.Type == TypeNetblockMember {
		candidates = append(candidates, t.Value)
	}

	for _, a := range t.Aliases {
		if a.Type == TypeNetblockOwner || a.Type == TypeNetblockMember {
			candidates = append(candidates, a.Value)
		}
	}

	for _, cidr := range candidates {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}

		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// domainScopeMatch reports whether value is an in-scope domain name under
// the parent/child inclusion flags, when the seed is an internet name.
func (t *Target) domainScopeMatch(value string, typ Type) bool {
	if typ != TypeInternetName || t.Type != TypeInternetName {
		return false
	}

	value = strings.ToLower(strings.TrimSuffix(value, "."))
	seed := strings.ToLower(strings.TrimSuffix(t.Value, "."))

	if t.IncludeChildDomains && isSubdomain(value, seed) {
		return true
	}

	if t.IncludeParentDomains && isSubdomain(seed, value) {
		return true
	}

	return false
}

// isSubdomain reports whether child is a strict subdomain of parent
// ("www.example.com" is a subdomain of "example.com").
func isSubdomain(child, parent string) bool {
	if child == parent {
		return false
	}

	return strings.HasSuffix(child, "."+parent)
}
