// internal/domain/communication/filter.go
package communication

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"fitclub_comms/internal/domain/profile"
)

// ErrInvalidFilter is returned for any malformed recipient filter.
var ErrInvalidFilter = errors.New("invalid recipient filter")

// FilterMode names the active variant of a RecipientFilter.
type FilterMode string

const (
	ModeAllUsers    FilterMode = "all_users"
	ModeRole        FilterMode = "role"
	ModeTags        FilterMode = "tags"
	ModeExplicitIDs FilterMode = "explicit_ids"
)

// RecipientFilter is a closed set of recipient selection modes.
// Only the variants declared in this package implement it.
type RecipientFilter interface {
	Mode() FilterMode
	// Match is the single predicate used by both resolve and count.
	Match(p *profile.Profile) bool
	Validate() error
	isRecipientFilter()
}

// AllUsers selects every active profile in the org.
type AllUsers struct{}

// ByRole selects profiles whose normalized role is in Roles.
type ByRole struct {
	Roles []profile.Role
}

// ByTags selects profiles carrying at least one of Tags.
type ByTags struct {
	Tags []string
}

// ExplicitIDs selects the listed profiles.
type ExplicitIDs struct {
	IDs []string
}

func (AllUsers) Mode() FilterMode    { return ModeAllUsers }
func (ByRole) Mode() FilterMode      { return ModeRole }
func (ByTags) Mode() FilterMode      { return ModeTags }
func (ExplicitIDs) Mode() FilterMode { return ModeExplicitIDs }

func (AllUsers) isRecipientFilter()    {}
func (ByRole) isRecipientFilter()      {}
func (ByTags) isRecipientFilter()      {}
func (ExplicitIDs) isRecipientFilter() {}

func (AllUsers) Validate() error { return nil }

func (f ByRole) Validate() error {
	if len(f.Roles) == 0 {
		return fmt.Errorf("%w: role list is empty", ErrInvalidFilter)
	}
	for _, r := range f.Roles {
		if !r.Valid() {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidFilter, r)
		}
	}
	return nil
}

func (f ByTags) Validate() error {
	if len(f.Tags) == 0 {
		return fmt.Errorf("%w: tag list is empty", ErrInvalidFilter)
	}
	for _, t := range f.Tags {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: blank tag", ErrInvalidFilter)
		}
	}
	return nil
}

func (f ExplicitIDs) Validate() error {
	if len(f.IDs) == 0 {
		return fmt.Errorf("%w: explicit_ids is empty", ErrInvalidFilter)
	}
	for _, id := range f.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: blank id in explicit_ids", ErrInvalidFilter)
		}
	}
	return nil
}

func (AllUsers) Match(p *profile.Profile) bool {
	return p != nil && p.IsActive
}

func (f ByRole) Match(p *profile.Profile) bool {
	if p == nil || !p.IsActive {
		return false
	}
	role := profile.NormalizeRole(p.Role)
	for _, r := range f.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (f ByTags) Match(p *profile.Profile) bool {
	if p == nil || !p.IsActive {
		return false
	}
	for _, want := range f.Tags {
		for _, have := range p.Tags {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(have)) {
				return true
			}
		}
	}
	return false
}

func (f ExplicitIDs) Match(p *profile.Profile) bool {
	if p == nil || !p.IsActive {
		return false
	}
	for _, id := range f.IDs {
		if strings.TrimSpace(id) == p.ID {
			return true
		}
	}
	return false
}

// UniqueIDs returns the requested ids without duplicates, in input order.
func (f ExplicitIDs) UniqueIDs() []string {
	seen := make(map[string]struct{}, len(f.IDs))
	out := make([]string, 0, len(f.IDs))
	for _, id := range f.IDs {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type filterWire struct {
	AllUsers    *bool    `json:"all_users,omitempty"`
	Role        []string `json:"role,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ExplicitIDs []string `json:"explicit_ids,omitempty"`
}

// ParseFilter decodes the wire form. Exactly one mode must be present.
func ParseFilter(raw []byte) (RecipientFilter, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: filter is required", ErrInvalidFilter)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var present []string
	for k := range keys {
		switch FilterMode(k) {
		case ModeAllUsers, ModeRole, ModeTags, ModeExplicitIDs:
			present = append(present, k)
		default:
			return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidFilter, k)
		}
	}
	if len(present) == 0 {
		return nil, fmt.Errorf("%w: no mode set", ErrInvalidFilter)
	}
	if len(present) > 1 {
		sort.Strings(present)
		return nil, fmt.Errorf("%w: modes are mutually exclusive, got %s", ErrInvalidFilter, strings.Join(present, ", "))
	}

	var w filterWire
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	var f RecipientFilter
	switch FilterMode(present[0]) {
	case ModeAllUsers:
		if w.AllUsers == nil || !*w.AllUsers {
			return nil, fmt.Errorf("%w: all_users must be true", ErrInvalidFilter)
		}
		f = AllUsers{}
	case ModeRole:
		roles := make([]profile.Role, 0, len(w.Role))
		for _, r := range w.Role {
			roles = append(roles, profile.NormalizeRole(r))
		}
		f = ByRole{Roles: roles}
	case ModeTags:
		f = ByTags{Tags: w.Tags}
	case ModeExplicitIDs:
		ids := make([]string, len(w.ExplicitIDs))
		for i, id := range w.ExplicitIDs {
			ids[i] = strings.TrimSpace(id)
		}
		f = ExplicitIDs{IDs: ids}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// MarshalFilter encodes a filter in its canonical wire form.
func MarshalFilter(f RecipientFilter) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: filter is required", ErrInvalidFilter)
	}
	var w filterWire
	switch v := f.(type) {
	case AllUsers:
		t := true
		w.AllUsers = &t
	case ByRole:
		w.Role = make([]string, 0, len(v.Roles))
		for _, r := range v.Roles {
			w.Role = append(w.Role, string(r))
		}
	case ByTags:
		w.Tags = v.Tags
	case ExplicitIDs:
		w.ExplicitIDs = v.IDs
	default:
		return nil, fmt.Errorf("%w: unsupported filter %T", ErrInvalidFilter, f)
	}
	return json.Marshal(w)
}
