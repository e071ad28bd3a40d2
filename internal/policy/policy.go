// Package policy decides what a user role may do with each content type.
// All checks are pure functions; callers pass the target local group where
// one applies.
package policy

type Role string
type ContentType string
type Group string

const (
	RoleAdmin       Role = "admin"
	RoleEditor      Role = "editor"
	RoleGroupLead   Role = "group_lead"
	RoleContributor Role = "contributor"
)

const (
	TypeArticle    ContentType = "article"
	TypeBriefing   ContentType = "briefing"
	TypeNews       ContentType = "news"
	TypeLocalEvent ContentType = "local_event"
	TypeLocalNews  ContentType = "local_news"
	TypeBio        ContentType = "bio"
	TypeEcosystem  ContentType = "ecosystem"
)

const (
	GroupBrighton Group = "brighton"
	GroupLondon   Group = "london"
	GroupOxford   Group = "oxford"
	GroupPennines Group = "pennines"
	GroupScotland Group = "scotland"
	GroupSolent   Group = "solent"
)

var Groups = []Group{GroupBrighton, GroupLondon, GroupOxford, GroupPennines, GroupScotland, GroupSolent}

// editorTypes is the set an editor may create and publish without review.
var editorTypes = map[ContentType]struct{}{
	TypeArticle:    {},
	TypeBriefing:   {},
	TypeNews:       {},
	TypeLocalEvent: {},
	TypeLocalNews:  {},
	TypeEcosystem:  {},
}

// contributorTypes excludes bio and ecosystem; contributors always go
// through review anyway.
var contributorTypes = map[ContentType]struct{}{
	TypeArticle:    {},
	TypeBriefing:   {},
	TypeNews:       {},
	TypeLocalEvent: {},
	TypeLocalNews:  {},
}

func isGroupScoped(ct ContentType) bool {
	return ct == TypeLocalEvent || ct == TypeLocalNews
}

// CanCreate reports whether the role may create content of this type at all,
// including as a pending draft. A group lead may create group content tagged
// with any group; the narrower gate is CanPublishDirectly.
func CanCreate(role Role, group Group, ct ContentType) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		_, ok := editorTypes[ct]
		return ok
	case RoleGroupLead:
		return isGroupScoped(ct)
	case RoleContributor:
		_, ok := contributorTypes[ct]
		return ok
	default:
		return false
	}
}

// CanPublishDirectly reports whether the role may publish this content type
// to the repository without review. target is the local group the content is
// tagged with, empty for untagged types.
func CanPublishDirectly(role Role, own Group, ct ContentType, target Group) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		_, ok := editorTypes[ct]
		return ok
	case RoleGroupLead:
		return isGroupScoped(ct) && own != "" && target == own
	default:
		return false
	}
}

// CanApprove reports whether the role may approve pending drafts, optionally
// scoped to a content type and target group. Pass ct == "" for an unscoped
// check (e.g. whether to show the pending dashboard at all).
func CanApprove(role Role, own Group, ct ContentType, target Group) bool {
	switch role {
	case RoleAdmin, RoleEditor:
		return true
	case RoleGroupLead:
		if own == "" || target != own {
			return false
		}
		return ct == "" || isGroupScoped(ct)
	default:
		return false
	}
}

// CanEdit reports whether the role may edit existing content. When target is
// empty a group lead is allowed through for group-scoped types; the concrete
// group is re-checked once the content is resolved.
func CanEdit(role Role, own Group, ct ContentType, target Group) bool {
	switch role {
	case RoleAdmin, RoleEditor:
		return true
	case RoleGroupLead:
		if !isGroupScoped(ct) {
			return false
		}
		return target == "" || target == own
	default:
		return false
	}
}

// CanDelete reports whether the role may delete existing content.
func CanDelete(role Role) bool {
	return role == RoleAdmin || role == RoleEditor
}

// NormalizeRole maps unknown role strings to the least privileged role.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleEditor, RoleGroupLead, RoleContributor:
		return Role(role)
	default:
		return RoleContributor
	}
}

// ValidGroup reports whether the string names one of the six local groups.
func ValidGroup(group string) bool {
	for _, g := range Groups {
		if Group(group) == g {
			return true
		}
	}
	return false
}
