package app

import (
	"context"
	"fmt"
	"sort"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/domain/profile"
)

// Resolution is the concrete recipient set of a filter on one channel.
type Resolution struct {
	Recipients []communication.Recipient
	// Dropped counts explicit ids that no longer exist or are inactive.
	Dropped int
	// Unreachable counts matched profiles without an address on the channel.
	Unreachable int
}

// CountResult is the preview of a filter.
type CountResult struct {
	Count       int `json:"count"`
	Dropped     int `json:"dropped"`
	Unreachable int `json:"unreachable"`
}

// RecipientResolver expands recipient filters against the profile store.
// Resolve and Count share candidate loading and the filter's Match predicate,
// so a preview never diverges from the actual send.
type RecipientResolver struct {
	profiles profile.Repository
}

func NewRecipientResolver(profiles profile.Repository) *RecipientResolver {
	return &RecipientResolver{profiles: profiles}
}

// Resolve returns one recipient per matched, reachable user on ch, sorted by user id.
func (r *RecipientResolver) Resolve(ctx context.Context, f communication.RecipientFilter, orgID string, ch communication.Channel) (*Resolution, error) {
	matched, dropped, err := r.match(ctx, f, orgID)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Dropped: dropped}
	seen := make(map[string]struct{}, len(matched))
	for _, p := range matched {
		addr := communication.AddressFor(p, ch)
		if addr == "" {
			res.Unreachable++
			continue
		}
		key := p.ID + "|" + string(ch)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		res.Recipients = append(res.Recipients, communication.Recipient{UserID: p.ID, Channel: ch, Address: addr})
	}
	sort.Slice(res.Recipients, func(i, j int) bool { return res.Recipients[i].UserID < res.Recipients[j].UserID })
	return res, nil
}

// Count previews a filter. With a channel it is exactly len(Resolve(...).Recipients);
// with an empty channel it counts users reachable on any channel.
func (r *RecipientResolver) Count(ctx context.Context, f communication.RecipientFilter, orgID string, ch communication.Channel) (*CountResult, error) {
	if ch != "" {
		res, err := r.Resolve(ctx, f, orgID, ch)
		if err != nil {
			return nil, err
		}
		return &CountResult{Count: len(res.Recipients), Dropped: res.Dropped, Unreachable: res.Unreachable}, nil
	}

	matched, dropped, err := r.match(ctx, f, orgID)
	if err != nil {
		return nil, err
	}
	out := &CountResult{Dropped: dropped}
	seen := make(map[string]struct{}, len(matched))
	for _, p := range matched {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if communication.Reachable(p) {
			out.Count++
		} else {
			out.Unreachable++
		}
	}
	return out, nil
}

// match loads candidates with a store-side prefilter and keeps those passing
// f.Match. The prefilter may over-select; it must never under-select.
func (r *RecipientResolver) match(ctx context.Context, f communication.RecipientFilter, orgID string) ([]*profile.Profile, int, error) {
	if f == nil {
		return nil, 0, fmt.Errorf("%w: filter is required", communication.ErrInvalidFilter)
	}
	if err := f.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		candidates []*profile.Profile
		err        error
		requested  int
	)
	switch v := f.(type) {
	case communication.AllUsers:
		candidates, err = r.profiles.ListActive(ctx, orgID)
	case communication.ByRole:
		raw := profile.Aliases(v.Roles)
		for _, role := range v.Roles {
			raw = append(raw, string(role))
		}
		candidates, err = r.profiles.ListByRoles(ctx, orgID, raw)
	case communication.ByTags:
		candidates, err = r.profiles.ListByTags(ctx, orgID, v.Tags)
	case communication.ExplicitIDs:
		ids := v.UniqueIDs()
		requested = len(ids)
		candidates, err = r.profiles.ListByIDs(ctx, orgID, ids)
	default:
		return nil, 0, fmt.Errorf("%w: unsupported filter %T", communication.ErrInvalidFilter, f)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load profiles for %s filter: %w", f.Mode(), err)
	}

	matched := make([]*profile.Profile, 0, len(candidates))
	for _, p := range candidates {
		if p.OrgID == orgID && f.Match(p) {
			matched = append(matched, p)
		}
	}

	dropped := 0
	if _, ok := f.(communication.ExplicitIDs); ok {
		unique := make(map[string]struct{}, len(matched))
		for _, p := range matched {
			unique[p.ID] = struct{}{}
		}
		dropped = requested - len(unique)
	}
	return matched, dropped, nil
}
