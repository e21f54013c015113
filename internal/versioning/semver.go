package versioning

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// SchemaSemver is the schema name of semantic versioning.
const SchemaSemver = "semver"

const (
	slotMajor = 0
	slotMinor = 1
	slotPatch = 2
)

type semverScheme struct{}

func (semverScheme) parse(raw string) (Version, error) {
	v, err := mm.StrictNewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return fromSemver(v), nil
}

func (semverScheme) render(v Version) string {
	sv, err := toSemver(v)
	if err != nil {
		return ""
	}
	return sv.String()
}

func (semverScheme) compare(a, b Version) int {
	av, errA := toSemver(a)
	bv, errB := toSemver(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return av.Compare(bv)
}

// parsePin accepts "semver", "Major.Minor.Patch" style tokens, "x" or "*" for
// free slots and decimal literals for fixed ones.
func (semverScheme) parsePin(pin string) (pinSlots, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" || strings.EqualFold(pin, SchemaSemver) {
		return pinSlots{nil, nil, nil}, nil
	}
	parts := strings.Split(pin, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: semver pin %q needs three slots", ErrInvalidPin, pin)
	}
	out := make(pinSlots, 3)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		switch strings.ToLower(part) {
		case "major", "minor", "patch", "x", "*":
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: semver pin slot %q", ErrInvalidPin, part)
		}
		out[i] = &n
	}
	return out, nil
}

func (s semverScheme) initial(pin string, ns Namespace) (Version, error) {
	slots, err := s.parsePin(pin)
	if err != nil {
		return Version{}, err
	}
	v := Version{Slots: make([]int, 3)}
	for i, fixed := range slots {
		if fixed != nil {
			v.Slots[i] = *fixed
		}
	}
	if v.Slots[slotMajor] == 0 && v.Slots[slotMinor] == 0 && v.Slots[slotPatch] == 0 {
		switch {
		case slots.free(slotMinor):
			v.Slots[slotMinor] = 1
		case slots.free(slotPatch):
			v.Slots[slotPatch] = 1
		}
	}
	return decorateSemver(v, ns)
}

func (s semverScheme) bump(v Version, pin string, action BumpAction, ns Namespace) (Version, error) {
	slots, err := s.parsePin(pin)
	if err != nil {
		return Version{}, err
	}
	target := slotPatch
	switch action {
	case ActionBumpMajor:
		target = slotMajor
	case ActionBumpMinor:
		target = slotMinor
	case ActionBump, ActionBumpPatch, ActionBumpDate:
		target = slotPatch
	default:
		return Version{}, fmt.Errorf("semver: unsupported bump action %q", action)
	}
	if action == ActionBump {
		target = -1
		for i := slotPatch; i >= slotMajor; i-- {
			if slots.free(i) {
				target = i
				break
			}
		}
	} else {
		for target <= slotPatch && !slots.free(target) {
			target++
		}
	}
	if !slots.free(target) {
		return Version{}, fmt.Errorf("%w: %q", ErrPinExhausted, pin)
	}

	sv, err := toSemver(Version{Slots: v.Slots})
	if err != nil {
		return Version{}, err
	}
	var next mm.Version
	switch target {
	case slotMajor:
		next = sv.IncMajor()
	case slotMinor:
		next = sv.IncMinor()
	default:
		next = sv.IncPatch()
	}
	return decorateSemver(fromSemver(&next), ns)
}

func (semverScheme) decorate(v Version, ns Namespace) (Version, error) {
	return decorateSemver(v, ns)
}

func (semverScheme) reservesModifier() bool  { return false }
func (semverScheme) supportsNamespace() bool { return true }

// decorateSemver places the namespace token and modifier in the prerelease and
// the metadata in the build metadata.
func decorateSemver(v Version, ns Namespace) (Version, error) {
	parts := make([]string, 0, 2)
	if token := sanitizeIdentifier(ns.Token); token != "" {
		parts = append(parts, token)
	}
	if modifier := sanitizeIdentifier(ns.Modifier); modifier != "" {
		parts = append(parts, modifier)
	}
	sv, err := toSemver(Version{Slots: v.Slots})
	if err != nil {
		return Version{}, err
	}
	out := *sv
	if len(parts) > 0 {
		out, err = out.SetPrerelease(strings.Join(parts, "."))
		if err != nil {
			return Version{}, fmt.Errorf("semver: prerelease: %w", err)
		}
	}
	if meta := sanitizeMetadata(ns.Metadata); meta != "" {
		out, err = out.SetMetadata(meta)
		if err != nil {
			return Version{}, fmt.Errorf("semver: metadata: %w", err)
		}
	}
	return fromSemver(&out), nil
}

func fromSemver(v *mm.Version) Version {
	return Version{
		Schema:   SchemaSemver,
		Slots:    []int{int(v.Major()), int(v.Minor()), int(v.Patch())},
		Modifier: v.Prerelease(),
		Metadata: v.Metadata(),
	}
}

func toSemver(v Version) (*mm.Version, error) {
	if len(v.Slots) != 3 {
		return nil, fmt.Errorf("semver: expected 3 slots, got %d", len(v.Slots))
	}
	for _, slot := range v.Slots {
		if slot < 0 {
			return nil, fmt.Errorf("semver: negative slot %d", slot)
		}
	}
	return mm.New(uint64(v.Slots[0]), uint64(v.Slots[1]), uint64(v.Slots[2]), v.Modifier, v.Metadata), nil
}
