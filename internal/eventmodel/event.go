package eventmodel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	minScore = 0
	maxScore = 100

	defaultConfidence = 100
	defaultVisibility = 100
	defaultRisk       = 0

	// RootEventType is the reserved event type of the one root event per scan.
	RootEventType = "ROOT"

	// RootHash is the sentinel hash/source_hash value carried by the root event
	// and referenced by every top-level child event.
	RootHash = "ROOT"

	nonceBytes = 16
)

// hashFormat enforces the alphanumeric-only hash contract required before a
// hash is interpolated into any store query (§4.9, §8 boundary behavior).
var hashFormat = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Event is the atomic unit of discovery. It is immutable once constructed:
// the only fields a caller can influence beyond type, data and module are
// the scoring fields, the actual/data source and the generated timestamp,
// and only through the options passed to New/NewRoot before the hash is
// sealed.
//
// Equality and hashing are derived from Hash alone (§3 invariants).
type Event struct {
	EventType    string
	Data         string
	Module       string
	SourceHash   string
	Hash         string
	Generated    float64
	Confidence   int
	Visibility   int
	Risk         int
	ActualSource string
	DataSource   string
}

// Option mutates scoring and provenance metadata during construction, before
// the event's hash is computed and the event is considered published.
type Option func(*Event)

// WithConfidence overrides the default confidence score (0..100).
func WithConfidence(confidence int) Option {
	return func(e *Event) { e.Confidence = confidence }
}

// WithVisibility overrides the default visibility score (0..100).
func WithVisibility(visibility int) Option {
	return func(e *Event) { e.Visibility = visibility }
}

// WithRisk overrides the default risk score (0..100).
func WithRisk(risk int) Option {
	return func(e *Event) { e.Risk = risk }
}

// WithActualSource records the upstream URL/string the data came from.
func WithActualSource(source string) Option {
	return func(e *Event) { e.ActualSource = source }
}

// WithDataSource records the human-readable name of the upstream provider.
func WithDataSource(source string) Option {
	return func(e *Event) { e.DataSource = source }
}

// WithGeneratedAt overrides the wall-clock timestamp (float seconds) used to
// seal the event's hash. Intended for deterministic tests.
func WithGeneratedAt(generated float64) Option {
	return func(e *Event) { e.Generated = generated }
}

// NewRoot constructs the one root event a scan emits at start. Its hash and
// source hash are both the RootHash sentinel; it has no module and no
// parent.
func NewRoot(seedTarget string, opts ...Option) (*Event, error) {
	if seedTarget == "" {
		return nil, ErrEmptyData
	}

	e := &Event{
		EventType:  RootEventType,
		Data:       seedTarget,
		SourceHash: RootHash,
		Hash:       RootHash,
		Generated:  nowSeconds(),
		Confidence: defaultConfidence,
		Visibility: defaultVisibility,
		Risk:       defaultRisk,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := validateScores(e); err != nil {
		return nil, err
	}

	return e, nil
}

// New constructs a non-root event as a child of parent, computing its hash
// over event_type ‖ generated ‖ module ‖ randomNonce (§3).
func New(parent *Event, eventType, data, module string, opts ...Option) (*Event, error) {
	if parent == nil {
		return nil, ErrMissingParent
	}

	if eventType == "" {
		return nil, ErrEmptyEventType
	}

	if data == "" {
		return nil, ErrEmptyData
	}

	if module == "" {
		return nil, ErrEmptyModule
	}

	e := &Event{
		EventType:  eventType,
		Data:       data,
		Module:     module,
		SourceHash: parent.Hash,
		Generated:  nowSeconds(),
		Confidence: defaultConfidence,
		Visibility: defaultVisibility,
		Risk:       defaultRisk,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := validateScores(e); err != nil {
		return nil, err
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, fmt.Errorf("generate event nonce: %w", err)
	}

	e.Hash = computeHash(e.EventType, e.Generated, e.Module, nonce)

	return e, nil
}

// Equal reports whether two events are the same event, per the hash-only
// equality rule (§3 invariants).
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}

	return e.Hash == other.Hash
}

// IsRoot reports whether the event is the scan's root event.
func (e *Event) IsRoot() bool {
	return e.Hash == RootHash && e.SourceHash == RootHash
}

// ValidHash reports whether hash conforms to the alphanumeric-only format
// required before being interpolated into a store query.
func ValidHash(hash string) bool {
	return hash != "" && hashFormat.MatchString(hash)
}

func validateScores(e *Event) error {
	for _, score := range []int{e.Confidence, e.Visibility, e.Risk} {
		if score < minScore || score > maxScore {
			return fmt.Errorf("%w: got %d", ErrScoreOutOfRange, score)
		}
	}

	return nil
}

func computeHash(eventType string, generated float64, module string, nonce []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte(strconv.FormatFloat(generated, 'f', -1, 64)))
	h.Write([]byte(module))
	h.Write(nonce)

	return hex.EncodeToString(h.Sum(nil))
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return nonce, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
