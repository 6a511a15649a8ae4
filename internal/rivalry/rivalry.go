// Package rivalry holds the static table of tracked entities and who gets
// notified when they score.
package rivalry

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the type of tracked entity. It decides which counter is polled.
type Kind string

const (
	Player Kind = "player"
	Team   Kind = "team"
)

// ParseKind accepts "player" or "team" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Player:
		return Player, nil
	case Team:
		return Team, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// Activity is the plural counter noun ("goals" or "wins").
func (k Kind) Activity() string {
	if k == Team {
		return "wins"
	}
	return "goals"
}

// Singular is the singular counter noun ("goal" or "win").
func (k Kind) Singular() string {
	if k == Team {
		return "win"
	}
	return "goal"
}

// Entity is one tracked player or team.
type Entity struct {
	ID        string
	Name      string
	Kind      Kind
	RivalName string
	// Supports is the identity whose fans receive the notification.
	Supports string
	// Recipient is an opaque account identifier understood by the delivery actor.
	Recipient string
	// League is the competition used for team counters; empty means the source default.
	League string
}

// Registry is an immutable, ordered lookup table of entities.
type Registry struct {
	order []Entity
	byID  map[string]int
}

// NewRegistry validates entities and preserves their order.
func NewRegistry(entities []Entity) (*Registry, error) {
	if len(entities) == 0 {
		return nil, errors.New("rivalry: no entities configured")
	}
	r := &Registry{
		order: make([]Entity, 0, len(entities)),
		byID:  make(map[string]int, len(entities)),
	}
	for i, e := range entities {
		e.ID = strings.TrimSpace(e.ID)
		switch {
		case e.ID == "":
			return nil, fmt.Errorf("rivalry: entity %d has no id", i)
		case strings.TrimSpace(e.Name) == "":
			return nil, fmt.Errorf("rivalry: entity %q has no name", e.ID)
		case e.Kind != Player && e.Kind != Team:
			return nil, fmt.Errorf("rivalry: entity %q has unknown kind %q", e.ID, e.Kind)
		case strings.TrimSpace(e.Recipient) == "":
			return nil, fmt.Errorf("rivalry: entity %q has no recipient", e.ID)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("rivalry: duplicate entity id %q", e.ID)
		}
		r.byID[e.ID] = len(r.order)
		r.order = append(r.order, e)
	}
	return r, nil
}

// All returns entities in registry order. The slice is a copy.
func (r *Registry) All() []Entity {
	return append([]Entity(nil), r.order...)
}

func (r *Registry) Lookup(id string) (Entity, bool) {
	i, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return Entity{}, false
	}
	return r.order[i], true
}

func (r *Registry) Len() int { return len(r.order) }

// Defaults is the built-in rivalry table.
func Defaults() []Entity {
	return []Entity{
		{
			ID: "85", Name: "Cristiano Ronaldo", Kind: Player,
			RivalName: "Lionel Messi", Supports: "Lionel Messi", Recipient: "cr7ir",
		},
		{
			ID: "154", Name: "Lionel Messi", Kind: Player,
			RivalName: "Cristiano Ronaldo", Supports: "Cristiano Ronaldo", Recipient: "we.are.messi",
		},
		{
			ID: "50", Name: "Manchester City", Kind: Team,
			RivalName: "Manchester United", Supports: "Manchester United", Recipient: "mancity_mcfc", League: "39",
		},
		{
			ID: "33", Name: "Manchester United", Kind: Team,
			RivalName: "Manchester City", Supports: "Manchester City", Recipient: "fulltimedevils", League: "39",
		},
	}
}
