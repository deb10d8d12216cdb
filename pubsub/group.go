package pubsub

// Group names a set of node names by which domains must be present and
// which (domain, value) pairs must match, without naming every member
// individually. An Adapter's ValidateNode can use a Group to decide whether
// a wildcard-style subscription is admissible — it is a naming convenience,
// not an authorization mechanism; Config.AuthorizationRequired and
// Adapter.Authorize remain the only access-control hook.
type Group struct {
	domains      map[KeyDomain]struct{}
	requiredKeys map[Key]struct{}
}

// GroupBuilder accumulates constraints before producing an immutable Group.
type GroupBuilder struct {
	g Group
}

// NewGroupBuilder starts an empty builder: its Group matches every
// NodeName until constraints are added.
func NewGroupBuilder() *GroupBuilder {
	return &GroupBuilder{g: Group{
		domains:      make(map[KeyDomain]struct{}),
		requiredKeys: make(map[Key]struct{}),
	}}
}

// HasDomain requires member node names to carry a key in this domain.
func (b *GroupBuilder) HasDomain(d KeyDomain) *GroupBuilder {
	b.g.domains[d] = struct{}{}
	return b
}

// HasKey requires member node names to carry this exact (domain, value)
// pair.
func (b *GroupBuilder) HasKey(k Key) *GroupBuilder {
	b.g.requiredKeys[k] = struct{}{}
	return b
}

// Build finalizes the Group. The builder may continue to be reused
// afterwards; Build returns an independent snapshot of its constraints.
func (b *GroupBuilder) Build() Group {
	out := Group{
		domains:      make(map[KeyDomain]struct{}, len(b.g.domains)),
		requiredKeys: make(map[Key]struct{}, len(b.g.requiredKeys)),
	}
	for d := range b.g.domains {
		out.domains[d] = struct{}{}
	}
	for k := range b.g.requiredKeys {
		out.requiredKeys[k] = struct{}{}
	}
	return out
}

// InGroup reports whether name satisfies every constraint accumulated by
// the builder that produced g.
func (g Group) InGroup(name NodeName) bool {
	if len(g.domains) == 0 && len(g.requiredKeys) == 0 {
		return true
	}
	present := make(map[KeyDomain]struct{}, name.Len())
	for _, k := range name.keys {
		present[k.Domain] = struct{}{}
	}
	for d := range g.domains {
		if _, ok := present[d]; !ok {
			return false
		}
	}
	for required := range g.requiredKeys {
		found := false
		for _, k := range name.keys {
			if k == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
