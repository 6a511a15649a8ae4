package rivalry

import (
	"strings"
	"testing"
)

func TestDefaultsFormValidRegistry(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("Len = %d, want 4", r.Len())
	}
	e, ok := r.Lookup("154")
	if !ok || e.Name != "Lionel Messi" || e.Kind != Player || e.Supports != "Cristiano Ronaldo" {
		t.Fatalf("Lookup(154) = %+v, %v", e, ok)
	}
	ids := make([]string, 0, r.Len())
	for _, e := range r.All() {
		ids = append(ids, e.ID)
	}
	if got := strings.Join(ids, ","); got != "85,154,50,33" {
		t.Fatalf("order = %s", got)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	all := r.All()
	all[0].Name = "mutated"
	if e, _ := r.Lookup("85"); e.Name != "Cristiano Ronaldo" {
		t.Fatalf("registry mutated through All(): %q", e.Name)
	}
}

func TestNewRegistryRejects(t *testing.T) {
	t.Parallel()
	ok := Entity{ID: "1", Name: "A", Kind: Team, Recipient: "r"}
	tests := []struct {
		name     string
		entities []Entity
		want     string
	}{
		{name: "empty", entities: nil, want: "no entities"},
		{name: "no id", entities: []Entity{{Name: "A", Kind: Team, Recipient: "r"}}, want: "no id"},
		{name: "no name", entities: []Entity{{ID: "1", Kind: Team, Recipient: "r"}}, want: "no name"},
		{name: "bad kind", entities: []Entity{{ID: "1", Name: "A", Kind: "coach", Recipient: "r"}}, want: "unknown kind"},
		{name: "no recipient", entities: []Entity{{ID: "1", Name: "A", Kind: Team}}, want: "no recipient"},
		{name: "duplicate", entities: []Entity{ok, ok}, want: "duplicate"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry(tt.entities)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestKindNouns(t *testing.T) {
	t.Parallel()
	if Player.Activity() != "goals" || Player.Singular() != "goal" {
		t.Fatal("player nouns")
	}
	if Team.Activity() != "wins" || Team.Singular() != "win" {
		t.Fatal("team nouns")
	}
	if k, err := ParseKind(" TEAM "); err != nil || k != Team {
		t.Fatalf("ParseKind = %v, %v", k, err)
	}
	if _, err := ParseKind("coach"); err == nil {
		t.Fatal("expected error")
	}
}
