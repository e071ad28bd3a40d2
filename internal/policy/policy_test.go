package policy

import "testing"

func TestCanCreate(t *testing.T) {
	tests := []struct {
		name string
		role Role
		ct   ContentType
		want bool
	}{
		{"admin bio", RoleAdmin, TypeBio, true},
		{"admin article", RoleAdmin, TypeArticle, true},
		{"editor article", RoleEditor, TypeArticle, true},
		{"editor ecosystem", RoleEditor, TypeEcosystem, true},
		{"editor bio denied", RoleEditor, TypeBio, false},
		{"group lead local event", RoleGroupLead, TypeLocalEvent, true},
		{"group lead local news", RoleGroupLead, TypeLocalNews, true},
		{"group lead article denied", RoleGroupLead, TypeArticle, false},
		{"contributor article", RoleContributor, TypeArticle, true},
		{"contributor briefing", RoleContributor, TypeBriefing, true},
		{"contributor ecosystem denied", RoleContributor, TypeEcosystem, false},
		{"contributor bio denied", RoleContributor, TypeBio, false},
		{"unknown role denied", Role("viewer"), TypeArticle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanCreate(tt.role, "", tt.ct); got != tt.want {
				t.Errorf("CanCreate(%s, %s) = %v, want %v", tt.role, tt.ct, got, tt.want)
			}
		})
	}
}

func TestCanPublishDirectly(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		own    Group
		ct     ContentType
		target Group
		want   bool
	}{
		{"admin anything", RoleAdmin, "", TypeBio, "", true},
		{"editor article", RoleEditor, "", TypeArticle, "", true},
		{"editor bio denied", RoleEditor, "", TypeBio, "", false},
		{"contributor never", RoleContributor, "", TypeArticle, "", false},
		{"lead own group event", RoleGroupLead, GroupOxford, TypeLocalEvent, GroupOxford, true},
		{"lead other group event denied", RoleGroupLead, GroupOxford, TypeLocalEvent, GroupLondon, false},
		{"lead own group news", RoleGroupLead, GroupScotland, TypeLocalNews, GroupScotland, true},
		{"lead article denied", RoleGroupLead, GroupOxford, TypeArticle, GroupOxford, false},
		{"lead without group denied", RoleGroupLead, "", TypeLocalEvent, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanPublishDirectly(tt.role, tt.own, tt.ct, tt.target); got != tt.want {
				t.Errorf("CanPublishDirectly(%s, %s, %s, %s) = %v, want %v",
					tt.role, tt.own, tt.ct, tt.target, got, tt.want)
			}
		})
	}
}

// A group lead can create for any group but only auto-publish for their own.
// This asymmetry is load-bearing for the approval workflow.
func TestGroupLeadCreatePublishAsymmetry(t *testing.T) {
	if !CanCreate(RoleGroupLead, GroupOxford, TypeLocalEvent) {
		t.Fatal("group lead should be able to create local events")
	}
	if CanPublishDirectly(RoleGroupLead, GroupOxford, TypeLocalEvent, GroupLondon) {
		t.Fatal("group lead must not auto-publish another group's event")
	}
	if !CanPublishDirectly(RoleGroupLead, GroupOxford, TypeLocalEvent, GroupOxford) {
		t.Fatal("group lead should auto-publish their own group's event")
	}
}

func TestCanApprove(t *testing.T) {
	tests := []struct {
		name   string
		role   Role
		own    Group
		ct     ContentType
		target Group
		want   bool
	}{
		{"admin", RoleAdmin, "", TypeArticle, "", true},
		{"editor", RoleEditor, "", TypeBio, "", true},
		{"contributor denied", RoleContributor, "", TypeArticle, "", false},
		{"lead own group event", RoleGroupLead, GroupLondon, TypeLocalEvent, GroupLondon, true},
		{"lead own group unscoped type", RoleGroupLead, GroupLondon, "", GroupLondon, true},
		{"lead other group denied", RoleGroupLead, GroupLondon, TypeLocalEvent, GroupOxford, false},
		{"lead article denied", RoleGroupLead, GroupLondon, TypeArticle, GroupLondon, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanApprove(tt.role, tt.own, tt.ct, tt.target); got != tt.want {
				t.Errorf("CanApprove(%s, %s, %s, %s) = %v, want %v",
					tt.role, tt.own, tt.ct, tt.target, got, tt.want)
			}
		})
	}
}

func TestCanEditAndDelete(t *testing.T) {
	if !CanEdit(RoleEditor, "", TypeArticle, "") {
		t.Error("editor should edit articles")
	}
	if CanEdit(RoleGroupLead, GroupSolent, TypeArticle, "") {
		t.Error("group lead must not edit articles")
	}
	if !CanEdit(RoleGroupLead, GroupSolent, TypeLocalNews, GroupSolent) {
		t.Error("group lead should edit own group's local news")
	}
	if CanEdit(RoleGroupLead, GroupSolent, TypeLocalNews, GroupLondon) {
		t.Error("group lead must not edit another group's local news")
	}
	if !CanEdit(RoleGroupLead, GroupSolent, TypeLocalEvent, "") {
		t.Error("group lead edit with unresolved group should pass the first gate")
	}
	if CanDelete(RoleGroupLead) || CanDelete(RoleContributor) {
		t.Error("only admin and editor may delete")
	}
	if !CanDelete(RoleAdmin) || !CanDelete(RoleEditor) {
		t.Error("admin and editor should delete")
	}
}

func TestNormalizeRole(t *testing.T) {
	if NormalizeRole("admin") != RoleAdmin {
		t.Error("admin should normalize to itself")
	}
	if NormalizeRole("superuser") != RoleContributor {
		t.Error("unknown roles should fall back to contributor")
	}
}

func TestValidGroup(t *testing.T) {
	for _, g := range Groups {
		if !ValidGroup(string(g)) {
			t.Errorf("expected %s to be valid", g)
		}
	}
	if ValidGroup("cardiff") {
		t.Error("cardiff is not a local group")
	}
}
