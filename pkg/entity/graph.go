package entity

import (
	"context"
	"sort"

	"github.com/cleargate/vantage/pkg/contracts"
)

// Neighbor is one entity discovered during network expansion, with the
// hop distance from the investigation subject.
type Neighbor struct {
	Entity *Entity
	Hop    int
	Via    Relationship
}

// Graph offers traversal over the relationship edges in a Store.
type Graph struct {
	store Store
}

// NewGraph creates a traverser over the given store.
func NewGraph(store Store) *Graph {
	return &Graph{store: store}
}

// Expand discovers the subject's network out to the degree's hop limit.
// D1 returns nothing. D2 walks one hop, D3 two hops. perHop caps the
// entities examined at each hop; the highest-strength edges win.
func (g *Graph) Expand(ctx context.Context, tenantID, rootID string, degree contracts.Degree, perHop int) ([]Neighbor, error) {
	maxHops := 0
	switch degree {
	case contracts.DegreeD2:
		maxHops = 1
	case contracts.DegreeD3:
		maxHops = 2
	}
	if maxHops == 0 {
		return nil, nil
	}

	visited := map[string]bool{rootID: true}
	frontier := []string{rootID}
	var out []Neighbor

	for hop := 1; hop <= maxHops; hop++ {
		var discovered []Neighbor
		for _, id := range frontier {
			rels, err := g.store.Relationships(ctx, tenantID, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				other := rel.ToID
				if other == id {
					other = rel.FromID
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				e, err := g.store.GetEntity(ctx, tenantID, other)
				if err != nil {
					continue // edge to an entity outside the tenant's view
				}
				discovered = append(discovered, Neighbor{Entity: e, Hop: hop, Via: rel})
			}
		}
		// Strongest ties first, then stable by id.
		sort.Slice(discovered, func(i, j int) bool {
			if discovered[i].Via.Strength != discovered[j].Via.Strength {
				return discovered[i].Via.Strength > discovered[j].Via.Strength
			}
			return discovered[i].Entity.ID < discovered[j].Entity.ID
		})
		if perHop > 0 && len(discovered) > perHop {
			discovered = discovered[:perHop]
		}
		out = append(out, discovered...)

		frontier = frontier[:0]
		for _, n := range discovered {
			frontier = append(frontier, n.Entity.ID)
		}
		if len(frontier) == 0 {
			break
		}
	}
	return out, nil
}

// ShortestPath returns the entity-id chain from 'from' to 'to' inclusive,
// or nil when no path exists within maxDepth hops. Breadth-first, so the
// result is a minimal-hop connection path for findings.
func (g *Graph) ShortestPath(ctx context.Context, tenantID, from, to string, maxDepth int) ([]string, error) {
	if from == to {
		return []string{from}, nil
	}
	parent := map[string]string{from: ""}
	frontier := []string{from}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			rels, err := g.store.Relationships(ctx, tenantID, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				other := rel.ToID
				if other == id {
					other = rel.FromID
				}
				if _, seen := parent[other]; seen {
					continue
				}
				parent[other] = id
				if other == to {
					return assemblePath(parent, from, to), nil
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil, nil
}

func assemblePath(parent map[string]string, from, to string) []string {
	var rev []string
	for at := to; at != ""; at = parent[at] {
		rev = append(rev, at)
		if at == from {
			break
		}
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
