// Package policy implements the scan policy engine: target/module/event-
// type admission control and depth/budget enforcement (§1 item 7).
package policy

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/poppopjmp/spiderfoot-sub002/internal/target"
)

const (
	bcryptCost  = 10
	bcryptLimit = 72
)

// Validation errors.
var (
	ErrEmptyAllowedModules = errors.New("policy: allowed modules list is empty")
	ErrInvalidMaxDepth     = errors.New("policy: max depth must be non-negative")
	ErrInvalidEventBudget  = errors.New("policy: event budget must be non-negative")
	ErrKeyEmpty            = errors.New("policy: credential cannot be empty")
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is a pre-built Decision for the happy path.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a Decision with the given rejection reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Policy bounds one scan's target/module/event-type admission and its
// depth/budget limits. Zero values for AllowedModules/AllowedEventTypes
// mean "no restriction" (every module/event type is admitted).
type Policy struct {
	AllowedModules    []string
	DeniedModules     []string
	AllowedEventTypes []string
	DeniedEventTypes  []string
	MaxDepth          int
	MaxEvents         int

	// ModuleCredentialHashes stores bcrypt hashes of module provider
	// credentials (API keys) at rest, keyed by module name.
	ModuleCredentialHashes map[string]string
}

// Document is the JSON/YAML-round-trippable representation of Policy,
// mirroring the ToDict/FromDict contract of §8 R2.
type Document struct {
	AllowedModules         []string          `json:"allowed_modules,omitempty"`
	DeniedModules          []string          `json:"denied_modules,omitempty"`
	AllowedEventTypes      []string          `json:"allowed_event_types,omitempty"`
	DeniedEventTypes       []string          `json:"denied_event_types,omitempty"`
	MaxDepth               int               `json:"max_depth"`
	MaxEvents              int               `json:"max_events"`
	ModuleCredentialHashes map[string]string `json:"module_credential_hashes,omitempty"`
}

// ToDict renders the policy as its round-trippable Document form.
func (p Policy) ToDict() Document {
	return Document{
		AllowedModules:         append([]string(nil), p.AllowedModules...),
		DeniedModules:          append([]string(nil), p.DeniedModules...),
		AllowedEventTypes:      append([]string(nil), p.AllowedEventTypes...),
		DeniedEventTypes:       append([]string(nil), p.DeniedEventTypes...),
		MaxDepth:               p.MaxDepth,
		MaxEvents:              p.MaxEvents,
		ModuleCredentialHashes: copyMap(p.ModuleCredentialHashes),
	}
}

// FromDict reconstructs a Policy from its Document form (§8 R2 round-trip).
func FromDict(d Document) Policy {
	return Policy{
		AllowedModules:         append([]string(nil), d.AllowedModules...),
		DeniedModules:          append([]string(nil), d.DeniedModules...),
		AllowedEventTypes:      append([]string(nil), d.AllowedEventTypes...),
		DeniedEventTypes:       append([]string(nil), d.DeniedEventTypes...),
		MaxDepth:               d.MaxDepth,
		MaxEvents:              d.MaxEvents,
		ModuleCredentialHashes: copyMap(d.ModuleCredentialHashes),
	}
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// Validate rejects an internally inconsistent policy.
func (p Policy) Validate() error {
	if p.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if p.MaxEvents < 0 {
		return ErrInvalidEventBudget
	}

	return nil
}

// AdmitModule decides whether moduleName may run in this scan.
func (p Policy) AdmitModule(moduleName string) Decision {
	if contains(p.DeniedModules, moduleName) {
		return Deny(fmt.Sprintf("module %q is explicitly denied", moduleName))
	}

	if len(p.AllowedModules) > 0 && !contains(p.AllowedModules, moduleName) {
		return Deny(fmt.Sprintf("module %q is not in the allowed set", moduleName))
	}

	return Allow()
}

// AdmitEventType decides whether eventType may be processed in this scan.
func (p Policy) AdmitEventType(eventType string) Decision {
	if contains(p.DeniedEventTypes, eventType) {
		return Deny(fmt.Sprintf("event type %q is explicitly denied", eventType))
	}

	if len(p.AllowedEventTypes) > 0 && !contains(p.AllowedEventTypes, eventType) {
		return Deny(fmt.Sprintf("event type %q is not in the allowed set", eventType))
	}

	return Allow()
}

// AdmitTarget decides whether value (of typ) is admissible given depth from
// the root event, by delegating scope matching to tg and enforcing
// MaxDepth.
func (p Policy) AdmitTarget(tg *target.Target, value string, typ target.Type, depth int) Decision {
	if p.MaxDepth > 0 && depth > p.MaxDepth {
		return Deny(fmt.Sprintf("depth %d exceeds max depth %d", depth, p.MaxDepth))
	}

	if tg != nil && !tg.Matches(value, typ) {
		return Deny(fmt.Sprintf("value %q is out of target scope", value))
	}

	return Allow()
}

// AdmitBudget decides whether emitting one more event keeps the scan within
// MaxEvents (zero means unlimited).
func (p Policy) AdmitBudget(eventsEmittedSoFar int) Decision {
	if p.MaxEvents > 0 && eventsEmittedSoFar >= p.MaxEvents {
		return Deny(fmt.Sprintf("event budget of %d exhausted", p.MaxEvents))
	}

	return Allow()
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}

	return false
}

// HashModuleCredential bcrypt-hashes a module provider credential for
// at-rest storage, the same way the teacher hashes plugin API keys.
func HashModuleCredential(credential string) (string, error) {
	if credential == "" {
		return "", ErrKeyEmpty
	}

	input := []byte(credential)
	if len(credential) > bcryptLimit {
		sum := sha256.Sum256(input)
		input = sum[:]
	}

	hash, err := bcrypt.GenerateFromPassword(input, bcryptCost)
	if err != nil {
		return "", fmt.Errorf("policy: hash module credential: %w", err)
	}

	return string(hash), nil
}

// VerifyModuleCredential reports whether credential matches hash.
func VerifyModuleCredential(hash, credential string) bool {
	if hash == "" || credential == "" {
		return false
	}

	input := []byte(credential)
	if len(credential) > bcryptLimit {
		sum := sha256.Sum256(input)
		input = sum[:]
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), input) == nil
}
