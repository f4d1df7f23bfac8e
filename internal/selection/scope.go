package selection

import "latentsetup/internal/setup/entity"

// FindScope returns the scope named name.
func FindScope(scopes []entity.Scope, name string) (entity.Scope, bool) {
	if name == "" {
		return entity.Scope{}, false
	}
	for _, s := range scopes {
		if s.Name == name {
			return s, true
		}
	}
	return entity.Scope{}, false
}

// Hydrate points every layer of want at the references stored on the scope
// named name. All layers change together; when no such scope exists want is
// returned untouched and ok is false.
func Hydrate(scopes []entity.Scope, name string, want Desired) (Desired, bool) {
	s, ok := FindScope(scopes, name)
	if !ok {
		return want, false
	}
	return Desired{
		Embedding:    s.Embeddings,
		Map:          s.Umap,
		Cluster:      s.Cluster,
		LabelModel:   s.ClusterLabels,
		LabelCluster: s.Cluster,
		Scope:        s.Name,
	}, true
}

// MatchScope returns the saved scope whose references equal the tuple, or nil.
// When several scopes match, the one named prefer wins, else the first in
// list order.
func MatchScope(scopes []entity.Scope, t Tuple, prefer string) *entity.Scope {
	if t.Embedding == "" || t.Map == nil || t.Cluster == nil {
		return nil
	}
	var match *entity.Scope
	for i := range scopes {
		s := scopes[i]
		if !matches(s, t) {
			continue
		}
		if s.Name == prefer {
			return &s
		}
		if match == nil {
			match = &s
		}
	}
	return match
}

func matches(s entity.Scope, t Tuple) bool {
	return s.Embeddings == t.Embedding &&
		s.Umap == t.MapName() &&
		s.Cluster == t.ClusterName() &&
		s.ClusterLabels == t.LabelModel
}
