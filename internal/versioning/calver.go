package versioning

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type calToken string

const (
	tokYYYY  calToken = "YYYY"
	tokYY    calToken = "YY"
	tok0Y    calToken = "0Y"
	tokMM    calToken = "MM"
	tok0M    calToken = "0M"
	tokDD    calToken = "DD"
	tok0D    calToken = "0D"
	tokMajor calToken = "MAJOR"
	tokMinor calToken = "MINOR"
	tokMicro calToken = "MICRO"

	modifierToken = "MODIFIER"
)

func (t calToken) date() bool {
	switch t {
	case tokYYYY, tokYY, tok0Y, tokMM, tok0M, tokDD, tok0D:
		return true
	default:
		return false
	}
}

func (t calToken) value(now time.Time) int {
	switch t {
	case tokYYYY:
		return now.Year()
	case tokYY, tok0Y:
		return now.Year() % 100
	case tokMM, tok0M:
		return int(now.Month())
	case tokDD, tok0D:
		return now.Day()
	default:
		return 0
	}
}

func (t calToken) format(n int) string {
	switch t {
	case tokYYYY:
		return fmt.Sprintf("%04d", n)
	case tok0Y, tok0M, tok0D:
		return fmt.Sprintf("%02d", n)
	default:
		return strconv.Itoa(n)
	}
}

type calverScheme struct {
	tokens   []calToken
	modifier bool
	now      func() time.Time
}

// newCalverScheme recognises a calendar pattern. A pattern needs at least one
// date token.
func newCalverScheme(schema string, now func() time.Time) (calverScheme, bool) {
	core := strings.ToUpper(strings.TrimSpace(schema))
	s := calverScheme{now: now}
	if idx := strings.Index(core, "-"); idx >= 0 {
		if core[idx+1:] != modifierToken {
			return calverScheme{}, false
		}
		s.modifier = true
		core = core[:idx]
	}
	hasDate := false
	for _, part := range strings.Split(core, ".") {
		tok := calToken(part)
		switch {
		case tok.date():
			hasDate = true
		case tok == tokMajor, tok == tokMinor, tok == tokMicro:
		default:
			return calverScheme{}, false
		}
		s.tokens = append(s.tokens, tok)
	}
	return s, hasDate
}

// IsCalendarSchema reports whether schema is a calendar versioning pattern.
func IsCalendarSchema(schema string) bool {
	_, ok := newCalverScheme(schema, time.Now)
	return ok
}

func (s calverScheme) parse(raw string) (Version, error) {
	v := Version{}
	if idx := strings.Index(raw, "+"); idx >= 0 {
		v.Metadata = raw[idx+1:]
		raw = raw[:idx]
	}
	if idx := strings.Index(raw, "-"); idx >= 0 {
		v.Modifier = raw[idx+1:]
		raw = raw[:idx]
		if v.Modifier == "" {
			return Version{}, fmt.Errorf("calver: empty modifier in %q", raw)
		}
	}
	parts := strings.Split(raw, ".")
	if len(parts) != len(s.tokens) {
		return Version{}, fmt.Errorf("calver: %q has %d slots, schema needs %d", raw, len(parts), len(s.tokens))
	}
	v.Slots = make([]int, len(parts))
	for i, part := range parts {
		if !isDigits(part) {
			return Version{}, fmt.Errorf("calver: slot %q is not numeric", part)
		}
		if s.tokens[i] == tokYYYY && len(part) != 4 {
			return Version{}, fmt.Errorf("calver: year %q needs four digits", part)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("calver: slot %q: %w", part, err)
		}
		v.Slots[i] = n
	}
	return v, nil
}

func (s calverScheme) render(v Version) string {
	if len(v.Slots) != len(s.tokens) {
		return ""
	}
	parts := make([]string, len(v.Slots))
	for i, n := range v.Slots {
		parts[i] = s.tokens[i].format(n)
	}
	out := strings.Join(parts, ".")
	if v.Modifier != "" {
		out += "-" + v.Modifier
	}
	if v.Metadata != "" {
		out += "+" + v.Metadata
	}
	return out
}

// compare orders slot by slot; with equal slots a version without modifier
// sorts after one carrying a modifier.
func (s calverScheme) compare(a, b Version) int {
	for i := 0; i < len(a.Slots) && i < len(b.Slots); i++ {
		switch {
		case a.Slots[i] < b.Slots[i]:
			return -1
		case a.Slots[i] > b.Slots[i]:
			return 1
		}
	}
	switch {
	case len(a.Slots) < len(b.Slots):
		return -1
	case len(a.Slots) > len(b.Slots):
		return 1
	}
	switch {
	case a.Modifier == b.Modifier:
		return 0
	case a.Modifier == "":
		return 1
	case b.Modifier == "":
		return -1
	}
	return strings.Compare(a.Modifier, b.Modifier)
}

func (s calverScheme) parsePin(pin string) (pinSlots, error) {
	pin = strings.ToUpper(strings.TrimSpace(pin))
	if idx := strings.Index(pin, "-"); idx >= 0 {
		if !s.modifier || pin[idx+1:] != modifierToken {
			return nil, fmt.Errorf("%w: calver pin modifier %q", ErrInvalidPin, pin[idx+1:])
		}
		pin = pin[:idx]
	}
	parts := strings.Split(pin, ".")
	if len(parts) != len(s.tokens) {
		return nil, fmt.Errorf("%w: calver pin %q needs %d slots", ErrInvalidPin, pin, len(s.tokens))
	}
	out := make(pinSlots, len(parts))
	for i, part := range parts {
		if calToken(part) == s.tokens[i] {
			continue
		}
		if !isDigits(part) {
			return nil, fmt.Errorf("%w: calver pin slot %q", ErrInvalidPin, part)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: calver pin slot %q", ErrInvalidPin, part)
		}
		out[i] = &n
	}
	return out, nil
}

func (s calverScheme) initial(pin string, ns Namespace) (Version, error) {
	slots, err := s.parsePin(pin)
	if err != nil {
		return Version{}, err
	}
	now := s.now()
	v := Version{Slots: make([]int, len(s.tokens))}
	for i, tok := range s.tokens {
		if fixed := slots[i]; fixed != nil {
			v.Slots[i] = *fixed
			continue
		}
		v.Slots[i] = tok.value(now)
	}
	return s.decorate(v, ns)
}

func (s calverScheme) bump(v Version, pin string, action BumpAction, ns Namespace) (Version, error) {
	slots, err := s.parsePin(pin)
	if err != nil {
		return Version{}, err
	}
	if len(v.Slots) != len(s.tokens) {
		return Version{}, fmt.Errorf("calver: version has %d slots, schema needs %d", len(v.Slots), len(s.tokens))
	}
	prior := Version{Slots: cloneSlots(v.Slots)}
	next := Version{Slots: cloneSlots(v.Slots)}

	now := s.now()
	dateMoved := false
	for i, tok := range s.tokens {
		if !tok.date() || !slots.free(i) {
			continue
		}
		if cur := tok.value(now); cur != next.Slots[i] {
			next.Slots[i] = cur
			dateMoved = true
		}
	}
	if dateMoved && s.compare(next, prior) > 0 {
		s.resetCounters(next.Slots, slots, 0)
		return s.decorate(next, ns)
	}
	next.Slots = cloneSlots(v.Slots)
	if action == ActionBumpDate && !s.hasCounter(slots) {
		return Version{}, fmt.Errorf("%w: calendar date has not moved", ErrPinExhausted)
	}

	idx := s.counterFor(action, slots)
	if idx < 0 {
		return Version{}, fmt.Errorf("%w: %q", ErrPinExhausted, pin)
	}
	next.Slots[idx]++
	s.resetCounters(next.Slots, slots, idx+1)
	return s.decorate(next, ns)
}

// counterFor picks the counter slot for an action, falling back to the next
// less significant free counter when the preferred one is missing or pinned.
func (s calverScheme) counterFor(action BumpAction, slots pinSlots) int {
	want := tokMicro
	switch action {
	case ActionBumpMajor:
		want = tokMajor
	case ActionBumpMinor:
		want = tokMinor
	}
	order := []calToken{tokMajor, tokMinor, tokMicro}
	start := 0
	for i, tok := range order {
		if tok == want {
			start = i
		}
	}
	if action == ActionBump || action == ActionBumpPatch || action == ActionBumpDate {
		for i := len(order) - 1; i >= 0; i-- {
			if idx := s.index(order[i]); idx >= 0 && slots.free(idx) {
				return idx
			}
		}
		return -1
	}
	for _, tok := range order[start:] {
		if idx := s.index(tok); idx >= 0 && slots.free(idx) {
			return idx
		}
	}
	return -1
}

func (s calverScheme) resetCounters(values []int, slots pinSlots, from int) {
	for i := from; i < len(s.tokens); i++ {
		if !s.tokens[i].date() && slots.free(i) {
			values[i] = 0
		}
	}
}

func (s calverScheme) hasCounter(slots pinSlots) bool {
	for i, tok := range s.tokens {
		if !tok.date() && slots.free(i) {
			return true
		}
	}
	return false
}

func (s calverScheme) index(tok calToken) int {
	for i, t := range s.tokens {
		if t == tok {
			return i
		}
	}
	return -1
}

// decorate fills a declared Modifier slot with the branch namespace token; the
// caller's modifier is only used by patterns without that slot.
func (s calverScheme) decorate(v Version, ns Namespace) (Version, error) {
	if s.modifier {
		v.Modifier = sanitizeIdentifier(ns.Token)
	} else {
		v.Modifier = sanitizeIdentifier(ns.Modifier)
	}
	v.Metadata = sanitizeMetadata(ns.Metadata)
	return v, nil
}

func (s calverScheme) reservesModifier() bool  { return s.modifier }
func (s calverScheme) supportsNamespace() bool { return s.modifier }
