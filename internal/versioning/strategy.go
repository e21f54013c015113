// Package versioning parses, compares, bumps and renders version strings under
// a named schema.
//
// Two schema families are supported:
//   - "semver": Major.Minor.Patch with prerelease and build metadata. Branch
//     pins fix slots with literals, e.g. "1.x.x" or "2.3.Patch".
//   - calendar versioning: dotted patterns built from YYYY, YY, 0Y, MM, 0M, DD,
//     0D, Major, Minor, Micro and an optional trailing "-Modifier" token, e.g.
//     "YYYY.0M.Micro". Pins replace tokens with literals, e.g. "2024.0M.Micro".
package versioning

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownSchema = errors.New("unknown version schema")
	ErrInvalidPin    = errors.New("pin does not match schema")
	ErrPinExhausted  = errors.New("pin leaves no slot to bump")
)

// BumpAction transforms a prior version into its successor.
type BumpAction string

const (
	// ActionBump increments the least significant slot the pin leaves free.
	ActionBump      BumpAction = "BUMP"
	ActionBumpPatch BumpAction = "BUMP_PATCH"
	ActionBumpMinor BumpAction = "BUMP_MINOR"
	ActionBumpMajor BumpAction = "BUMP_MAJOR"
	// ActionBumpDate moves calendar slots to the current date.
	ActionBumpDate BumpAction = "BUMP_DATE"
)

// ParseBumpAction accepts the action names case-insensitively; empty input is BUMP.
func ParseBumpAction(raw string) (BumpAction, error) {
	action := BumpAction(strings.ToUpper(strings.TrimSpace(raw)))
	switch action {
	case "":
		return ActionBump, nil
	case ActionBump, ActionBumpPatch, ActionBumpMinor, ActionBumpMajor, ActionBumpDate:
		return action, nil
	default:
		return "", fmt.Errorf("unsupported bump action %q", raw)
	}
}

// Namespace carries the decorations applied to a computed version.
type Namespace struct {
	// Token is derived from the branch name of non-base branches.
	Token    string
	Modifier string
	Metadata string
}

// Version is a parsed version. Slots hold the numeric parts in schema order.
type Version struct {
	Schema   string
	Slots    []int
	Modifier string
	Metadata string
}

// Strategy is the pluggable version semantics used by the assignment engine.
type Strategy interface {
	Parse(schema, raw string) (Version, error)
	Bump(v Version, pin string, action BumpAction, ns Namespace) (Version, error)
	Render(v Version) string
	Compare(a, b Version) int
	IsPinMatchingSchema(schema, pin string) bool
	IsVersionMatchingSchemaAndPin(schema, pin, raw string) bool
	Initial(schema, pin string, ns Namespace) (Version, error)
	// Decorate replaces the modifier and metadata of v with those derived from ns.
	Decorate(v Version, ns Namespace) (Version, error)
	ReservesModifier(schema string) bool
	// SupportsNamespace reports whether branch namespaces apply to the schema.
	SupportsNamespace(schema string) bool
}

type scheme interface {
	parse(raw string) (Version, error)
	bump(v Version, pin string, action BumpAction, ns Namespace) (Version, error)
	render(v Version) string
	compare(a, b Version) int
	parsePin(pin string) (pinSlots, error)
	initial(pin string, ns Namespace) (Version, error)
	decorate(v Version, ns Namespace) (Version, error)
	reservesModifier() bool
	supportsNamespace() bool
}

// pinSlots holds one entry per schema slot; nil entries are free.
type pinSlots []*int

func (p pinSlots) matches(slots []int) bool {
	if len(p) != len(slots) {
		return false
	}
	for i, fixed := range p {
		if fixed != nil && *fixed != slots[i] {
			return false
		}
	}
	return true
}

func (p pinSlots) free(i int) bool {
	return i >= 0 && i < len(p) && p[i] == nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for calendar slots.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is the default Strategy. It dispatches on the schema name.
type Registry struct {
	now func() time.Time
}

func Default(opts ...Option) *Registry {
	r := &Registry{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) scheme(schema string) (scheme, error) {
	schema = strings.TrimSpace(schema)
	if strings.EqualFold(schema, SchemaSemver) {
		return semverScheme{}, nil
	}
	if cal, ok := newCalverScheme(schema, r.now); ok {
		return cal, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schema)
}

func (r *Registry) Parse(schema, raw string) (Version, error) {
	s, err := r.scheme(schema)
	if err != nil {
		return Version{}, err
	}
	v, err := s.parse(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, err
	}
	v.Schema = schema
	return v, nil
}

func (r *Registry) Bump(v Version, pin string, action BumpAction, ns Namespace) (Version, error) {
	s, err := r.scheme(v.Schema)
	if err != nil {
		return Version{}, err
	}
	if action == "" {
		action = ActionBump
	}
	next, err := s.bump(v, pin, action, ns)
	if err != nil {
		return Version{}, err
	}
	next.Schema = v.Schema
	return next, nil
}

func (r *Registry) Render(v Version) string {
	s, err := r.scheme(v.Schema)
	if err != nil {
		return ""
	}
	return s.render(v)
}

// Compare orders a and b under a's schema: -1, 0 or 1. Versions of different
// schemas compare by schema name so the ordering stays total.
func (r *Registry) Compare(a, b Version) int {
	if !strings.EqualFold(a.Schema, b.Schema) {
		return strings.Compare(a.Schema, b.Schema)
	}
	s, err := r.scheme(a.Schema)
	if err != nil {
		return 0
	}
	return s.compare(a, b)
}

func (r *Registry) IsPinMatchingSchema(schema, pin string) bool {
	s, err := r.scheme(schema)
	if err != nil {
		return false
	}
	_, err = s.parsePin(pin)
	return err == nil
}

func (r *Registry) IsVersionMatchingSchemaAndPin(schema, pin, raw string) bool {
	s, err := r.scheme(schema)
	if err != nil {
		return false
	}
	slots, err := s.parsePin(pin)
	if err != nil {
		return false
	}
	v, err := s.parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return slots.matches(v.Slots)
}

func (r *Registry) Initial(schema, pin string, ns Namespace) (Version, error) {
	s, err := r.scheme(schema)
	if err != nil {
		return Version{}, err
	}
	v, err := s.initial(pin, ns)
	if err != nil {
		return Version{}, err
	}
	v.Schema = schema
	return v, nil
}

func (r *Registry) Decorate(v Version, ns Namespace) (Version, error) {
	s, err := r.scheme(v.Schema)
	if err != nil {
		return Version{}, err
	}
	out, err := s.decorate(Version{Slots: cloneSlots(v.Slots)}, ns)
	if err != nil {
		return Version{}, err
	}
	out.Schema = v.Schema
	return out, nil
}

func (r *Registry) ReservesModifier(schema string) bool {
	s, err := r.scheme(schema)
	if err != nil {
		return false
	}
	return s.reservesModifier()
}

func (r *Registry) SupportsNamespace(schema string) bool {
	s, err := r.scheme(schema)
	if err != nil {
		return false
	}
	return s.supportsNamespace()
}

// Max returns the greatest version under s, or false when versions is empty.
func Max(s Strategy, versions []Version) (Version, bool) {
	var best Version
	found := false
	for _, v := range versions {
		if !found || s.Compare(v, best) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}

func cloneSlots(slots []int) []int {
	out := make([]int, len(slots))
	copy(out, slots)
	return out
}
