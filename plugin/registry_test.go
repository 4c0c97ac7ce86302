package plugin

import (
	"encoding/json"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	if err := r.Register(testDefinition("alpha", &stubHooks{})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(testDefinition("alpha", &stubHooks{})); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	def, ok := r.Get("alpha")
	if !ok || def.ID != "alpha" {
		t.Fatalf("Get(alpha) = %v/%v", def, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get(missing) = true")
	}
	if r.Schema("alpha") == nil {
		t.Fatal("Schema(alpha) = nil after registration")
	}
	if r.Schema("missing") != nil {
		t.Fatal("Schema(missing) != nil")
	}
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing id", func(d *Definition) { d.ID = "" }},
		{"missing version", func(d *Definition) { d.Version = "" }},
		{"missing hooks", func(d *Definition) { d.Hooks = nil }},
		{"missing schema", func(d *Definition) { d.ConfigSchema = nil }},
		{"malformed schema", func(d *Definition) { d.ConfigSchema = json.RawMessage(`{"type":`) }},
		{"incomplete route", func(d *Definition) { d.Routes = []RouteDef{{Method: "GET"}} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			def := testDefinition("bad", &stubHooks{}, tc.mutate)
			if err := NewRegistry(nil).Register(def); err == nil {
				t.Fatal("invalid definition accepted")
			}
		})
	}
}

func TestRegistryDefaultsLicenseTier(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	def := testDefinition("alpha", &stubHooks{}, func(d *Definition) { d.License = "" })
	if err := r.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got, _ := r.Get("alpha")
	if got.License != TierFree {
		t.Fatalf("License = %s, want %s", got.License, TierFree)
	}
}

func TestRegistryLoadSkipsInvalid(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	r.Load(
		testDefinition("good", &stubHooks{}),
		testDefinition("", &stubHooks{}),
		nil,
	)

	list := r.List()
	if len(list) != 1 || list[0].ID != "good" {
		t.Fatalf("List = %v, want only good", list)
	}
}

func TestRegistryListSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(testDefinition(id, &stubHooks{})); err != nil {
			t.Fatalf("Register(%s) failed: %v", id, err)
		}
	}
	list := r.List()
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("List[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}
