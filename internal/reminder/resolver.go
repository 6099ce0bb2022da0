package reminder

import (
	"context"

	"agenda/internal/models"
)

// GroupLookup is the slice of the group repository the resolver needs.
// Implementations return nil (not an error) for ids that do not exist.
type GroupLookup interface {
	FindByID(ctx context.Context, id string) (*Group, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*Group, error)
}

// ControlResolver derives a template's effective status from its own switch
// and the owning group's control mode. It has no persistence side effects.
type ControlResolver struct {
	groups GroupLookup
}

// NewControlResolver creates a resolver backed by the given group lookup
func NewControlResolver(groups GroupLookup) *ControlResolver {
	return &ControlResolver{groups: groups}
}

// Effective resolves one template. Ungrouped templates and templates whose
// group has gone missing govern themselves.
func (r *ControlResolver) Effective(ctx context.Context, tpl *Template) (models.ReminderStatus, error) {
	if tpl.GroupID() == "" {
		return tpl.Status(), nil
	}

	group, err := r.groups.FindByID(ctx, tpl.GroupID())
	if err != nil {
		return "", err
	}
	return effectiveStatus(tpl, group), nil
}

// EffectiveBatch resolves many templates with a single group fetch, keyed by
// template id
func (r *ControlResolver) EffectiveBatch(ctx context.Context, tpls []*Template) (map[string]models.ReminderStatus, error) {
	seen := make(map[string]struct{})
	var groupIDs []string
	for _, tpl := range tpls {
		id := tpl.GroupID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			groupIDs = append(groupIDs, id)
		}
	}

	groups := map[string]*Group{}
	if len(groupIDs) > 0 {
		var err error
		groups, err = r.groups.FindByIDs(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]models.ReminderStatus, len(tpls))
	for _, tpl := range tpls {
		out[tpl.ID()] = effectiveStatus(tpl, groups[tpl.GroupID()])
	}
	return out, nil
}

// IsEffectivelyEnabled reports whether the template would fire right now
func (r *ControlResolver) IsEffectivelyEnabled(ctx context.Context, tpl *Template) (bool, error) {
	status, err := r.Effective(ctx, tpl)
	if err != nil {
		return false, err
	}
	return status == models.ReminderActive, nil
}

// effectiveStatus applies the control-mode rule. Group mode ANDs the group
// switch with the template's own: both must be active.
func effectiveStatus(tpl *Template, group *Group) models.ReminderStatus {
	if group == nil || group.ControlMode() == models.ControlIndividual {
		return tpl.Status()
	}

	if group.Status() == models.ReminderActive && tpl.Status() == models.ReminderActive {
		return models.ReminderActive
	}
	return models.ReminderPaused
}
