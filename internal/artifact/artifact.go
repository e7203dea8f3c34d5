package artifact

import (
	"fmt"
	"sort"
)

// APIVersion is stamped on every rendered artifact.
const APIVersion = "infisical.verlyn13.dev/v1"

// Kind identifies an artifact type.
type Kind string

const (
	KindProjectRole     Kind = "ProjectRole"
	KindMachineIdentity Kind = "MachineIdentity"
	KindProjectBinding  Kind = "ProjectBinding"
	KindPlatformConfig  Kind = "PlatformConfig"
)

// ValidKinds defines the allowed artifact kinds.
var ValidKinds = map[Kind]bool{
	KindProjectRole:     true,
	KindMachineIdentity: true,
	KindProjectBinding:  true,
	KindPlatformConfig:  true,
}

// Metadata carries the identifying fields of an artifact. Name is required
// for every kind; the remaining fields are kind-specific (Slug for roles,
// Environment for bindings, Labels for identities).
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Slug        string            `yaml:"slug,omitempty" json:"slug,omitempty"`
	Environment string            `yaml:"environment,omitempty" json:"environment,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Artifact is one typed unit of desired configuration.
type Artifact struct {
	APIVersion string         `yaml:"apiVersion" json:"apiVersion"`
	Kind       Kind           `yaml:"kind" json:"kind"`
	Metadata   Metadata       `yaml:"metadata" json:"metadata"`
	Spec       map[string]any `yaml:"spec" json:"spec"`
}

// Ref is the identity of an artifact within one render: (kind, name).
// For ProjectRole the name is the role slug, which is the unique handle;
// metadata.name holds the display name.
type Ref struct {
	Kind Kind
	Name string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

// Ref returns the artifact's identity.
func (a *Artifact) Ref() Ref {
	if a.Kind == KindProjectRole && a.Metadata.Slug != "" {
		return Ref{Kind: a.Kind, Name: a.Metadata.Slug}
	}
	return Ref{Kind: a.Kind, Name: a.Metadata.Name}
}

// Set is an ordered collection of artifacts with unique identities.
// Order is insertion order; callers that need determinism sort via Sorted.
type Set struct {
	artifacts []*Artifact
	byRef     map[Ref]*Artifact
}

// NewSet creates an empty artifact set.
func NewSet() *Set {
	return &Set{byRef: make(map[Ref]*Artifact)}
}

// Add inserts an artifact, rejecting duplicate identities.
func (s *Set) Add(a *Artifact) error {
	ref := a.Ref()
	if _, exists := s.byRef[ref]; exists {
		return fmt.Errorf("duplicate artifact identity %s", ref)
	}
	s.artifacts = append(s.artifacts, a)
	s.byRef[ref] = a
	return nil
}

// Get looks up an artifact by identity.
func (s *Set) Get(ref Ref) (*Artifact, bool) {
	a, ok := s.byRef[ref]
	return a, ok
}

// Contains reports whether an artifact with the given identity exists.
func (s *Set) Contains(ref Ref) bool {
	_, ok := s.byRef[ref]
	return ok
}

// Len returns the number of artifacts in the set.
func (s *Set) Len() int {
	return len(s.artifacts)
}

// All returns the artifacts in insertion order.
func (s *Set) All() []*Artifact {
	return s.artifacts
}

// OfKind returns the artifacts of one kind sorted lexicographically by
// identity name. This is the processing order used within a stage.
func (s *Set) OfKind(kind Kind) []*Artifact {
	var out []*Artifact
	for _, a := range s.artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().Name < out[j].Ref().Name
	})
	return out
}
