package quality

import "github.com/kgforge/backend/internal/cascade"

// NeutralDefaultWeight is applied to relations without a usable raw
// strength, so they are neither favored nor excluded by the default
// retrieval thresholds. Tunable through configuration.
const NeutralDefaultWeight = 0.5

// WeightAssigner normalizes the 1-10 raw strength a model attaches to a
// relation into the [0,1] weight the graph persists.
type WeightAssigner struct {
	neutral float64
}

func NewWeightAssigner(neutralDefault float64) *WeightAssigner {
	if neutralDefault <= 0 || neutralDefault > 1 {
		neutralDefault = NeutralDefaultWeight
	}
	return &WeightAssigner{neutral: neutralDefault}
}

// Assign maps strength s in [1,10] to weight s/10; anything else gets the
// neutral default. The result is always in [0,1].
func (a *WeightAssigner) Assign(rel cascade.Relation) cascade.Relation {
	if rel.RawStrength >= 1 && rel.RawStrength <= 10 {
		rel.Weight = float64(rel.RawStrength) / 10
	} else {
		rel.Weight = a.neutral
	}
	return rel
}

// AssignAll applies Assign to every relation in place and returns the
// slice for chaining.
func (a *WeightAssigner) AssignAll(rels []cascade.Relation) []cascade.Relation {
	for i := range rels {
		rels[i] = a.Assign(rels[i])
	}
	return rels
}
