package policy

import (
	"reflect"
	"testing"
)

func TestNormalizeTool(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"read", "read_file"},
		{"Bash", "exec"},
		{" shell ", "exec"},
		{"read_file", "read_file"},
		{"grep", "grep"},
	}
	for _, tc := range cases {
		if got := NormalizeTool(tc.in); got != tc.want {
			t.Errorf("NormalizeTool(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandGroups_ExpandsAndDedupes(t *testing.T) {
	r := NewResolver()
	got := r.ExpandGroups([]string{"group:fs", "read", "exec"})
	want := []string{"read_file", "write_file", "edit_file", "create_file", "exec"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpandGroups = %v, want %v", got, want)
	}
}

func TestDecide_DenyWinsOverAllow(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:fs").WithDeny("write_file")

	if r.IsAllowed(p, "write_file") {
		t.Fatal("deny rule should win over allow")
	}
	if !r.IsAllowed(p, "read_file") {
		t.Fatal("read_file should remain allowed")
	}
	d := r.Decide(p, "write_file")
	if d.Reason != "denied by rule: write_file" {
		t.Fatalf("Reason = %q", d.Reason)
	}
}

func TestDecide_ProfileFullAllowsAnythingNotDenied(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("exec")

	if !r.IsAllowed(p, "anything_at_all") {
		t.Fatal("full profile should allow unlisted tools")
	}
	if r.IsAllowed(p, "exec") {
		t.Fatal("full profile must still honor deny rules")
	}
}

func TestDecide_ProfileMinimal(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileMinimal)

	if !r.IsAllowed(p, "context_usage") {
		t.Fatal("minimal profile should allow introspection")
	}
	if r.IsAllowed(p, "exec") {
		t.Fatal("minimal profile should not allow exec")
	}
}

func TestDecide_WildcardPatterns(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("memory_*")

	if !r.IsAllowed(p, "memory_search") || !r.IsAllowed(p, "memory_get") {
		t.Fatal("wildcard allow should cover memory tools")
	}
	if r.IsAllowed(p, "exec") {
		t.Fatal("wildcard must not leak beyond its prefix")
	}
}

func TestDecide_AliasInPolicyAndQuery(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("read")

	if !r.IsAllowed(p, "read_file") {
		t.Fatal("aliased allow entry should match the canonical name")
	}
	if !r.IsAllowed(p, "read") {
		t.Fatal("aliased query should resolve before evaluation")
	}
}

func TestDecide_NilPolicyDeniesAll(t *testing.T) {
	r := NewResolver()
	if r.IsAllowed(nil, "read_file") {
		t.Fatal("nil policy must deny")
	}
}

func TestFilterAllowed_PreservesOrder(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:fs", "exec")

	got := r.FilterAllowed(p, []string{"exec", "browser", "read_file"})
	want := []string{"exec", "read_file"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FilterAllowed = %v, want %v", got, want)
	}
}

func TestAddGroupAndCustomAlias(t *testing.T) {
	r := NewResolver()
	r.AddGroup("web", []string{"websearch", "webfetch"})
	r.RegisterAlias("search", "websearch")

	p := NewPolicy("").WithAllow("group:web")
	if !r.IsAllowed(p, "search") {
		t.Fatal("custom alias should resolve into the custom group")
	}
}

func TestMerge(t *testing.T) {
	a := NewPolicy(ProfileCoding).WithAllow("skills_note")
	b := NewPolicy("").WithDeny("exec")

	merged := Merge(a, b)
	if merged.Profile != ProfileCoding {
		t.Fatalf("Profile = %q", merged.Profile)
	}

	r := NewResolver()
	if r.IsAllowed(merged, "exec") {
		t.Fatal("merged deny should apply")
	}
	if !r.IsAllowed(merged, "skills_note") || !r.IsAllowed(merged, "read_file") {
		t.Fatal("merged allows should apply")
	}
}

func TestGetAllowed_SortedAndDenyFiltered(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:search").WithDeny("find")

	got := r.GetAllowed(p)
	want := []string{"grep", "ls"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetAllowed = %v, want %v", got, want)
	}
}
