// Package render turns policy-evaluated documents into a canonical,
// referentially consistent artifact set.
package render

import (
	"fmt"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/policy"
)

// RoleSpec is one project role from the journal document.
type RoleSpec struct {
	Slug        string
	Name        string
	Permissions map[string]any
}

// IdentitySpec is one machine identity from the journal document.
type IdentitySpec struct {
	Name        string
	Env         string
	ProjectRole string
	Auth        map[string]any
	ReadPaths   []string
	WritePaths  []string
}

// Input carries the policy documents consumed by one render pass.
type Input struct {
	Journal  policy.Document
	Vercel   policy.Document
	Supabase policy.Document
}

// Output is the result of a render pass: the typed artifact set plus the
// platform manifests, which pass through as opaque documents.
type Output struct {
	Artifacts *artifact.Set
	Vercel    policy.Document
	Supabase  policy.Document
}

// Render builds the artifact set from policy documents.
//
// Every role yields one ProjectRole artifact; every identity yields one
// MachineIdentity artifact and exactly one ProjectBinding artifact derived
// from it. Referential integrity is guaranteed here, at construction time:
// an identity referencing a role slug absent from the same pass fails the
// whole render.
func Render(in Input) (*Output, error) {
	roles, identities, err := parseJournal(in.Journal)
	if err != nil {
		return nil, err
	}

	set := artifact.NewSet()

	roleSlugs := make(map[string]bool, len(roles))
	for _, role := range roles {
		roleSlugs[role.Slug] = true
		if err := set.Add(roleArtifact(role)); err != nil {
			return nil, &RenderError{Code: ErrCodeReferentialIntegrity, Field: "project_roles", Message: err.Error()}
		}
	}

	for _, ident := range identities {
		if ident.ProjectRole != "" && !roleSlugs[ident.ProjectRole] {
			return nil, &RenderError{
				Code:    ErrCodeReferentialIntegrity,
				Field:   "identities." + ident.Name + ".project_role",
				Message: fmt.Sprintf("identity %q references unknown role %q", ident.Name, ident.ProjectRole),
			}
		}
		if err := set.Add(identityArtifact(ident)); err != nil {
			return nil, &RenderError{Code: ErrCodeReferentialIntegrity, Field: "identities", Message: err.Error()}
		}
		if err := set.Add(bindingArtifact(ident)); err != nil {
			return nil, &RenderError{Code: ErrCodeReferentialIntegrity, Field: "identities", Message: err.Error()}
		}
	}

	return &Output{Artifacts: set, Vercel: in.Vercel, Supabase: in.Supabase}, nil
}

func roleArtifact(role RoleSpec) *artifact.Artifact {
	return &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindProjectRole,
		Metadata:   artifact.Metadata{Name: role.Name, Slug: role.Slug},
		Spec: map[string]any{
			"permissions": role.Permissions,
		},
	}
}

func identityArtifact(ident IdentitySpec) *artifact.Artifact {
	a := &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindMachineIdentity,
		Metadata:   artifact.Metadata{Name: ident.Name},
		Spec: map[string]any{
			"project_role": ident.ProjectRole,
			"auth":         ident.Auth,
		},
	}
	if ident.Env != "" {
		a.Metadata.Labels = map[string]string{"env": ident.Env}
	}
	return a
}

// bindingArtifact derives the binding from its identity. The binding is the
// authoritative carrier of the read/write path lists at apply time.
func bindingArtifact(ident IdentitySpec) *artifact.Artifact {
	return &artifact.Artifact{
		APIVersion: artifact.APIVersion,
		Kind:       artifact.KindProjectBinding,
		Metadata:   artifact.Metadata{Name: ident.Name, Environment: ident.Env},
		Spec: map[string]any{
			"identity":     ident.Name,
			"project_role": ident.ProjectRole,
			"permissions": map[string]any{
				"read_paths":  toAnySlice(ident.ReadPaths),
				"write_paths": toAnySlice(ident.WritePaths),
			},
		},
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// parseJournal extracts typed role and identity specs from the opaque
// journal document. Required fields produce MISSING_FIELD errors with the
// document path of the offender.
func parseJournal(doc policy.Document) ([]RoleSpec, []IdentitySpec, error) {
	if doc == nil {
		return nil, nil, &RenderError{Code: ErrCodeMissingField, Field: "journal", Message: "journal document is empty"}
	}

	var roles []RoleSpec
	for i, raw := range listField(doc, "project_roles") {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, &RenderError{
				Code:    ErrCodeMissingField,
				Field:   fmt.Sprintf("project_roles[%d]", i),
				Message: "role entry is not a mapping",
			}
		}
		role := RoleSpec{
			Slug:        stringField(entry, "slug"),
			Name:        stringField(entry, "name"),
			Permissions: mapField(entry, "permissions"),
		}
		if role.Slug == "" {
			return nil, nil, &RenderError{Code: ErrCodeMissingField, Field: fmt.Sprintf("project_roles[%d].slug", i), Message: "slug is required"}
		}
		if role.Name == "" {
			return nil, nil, &RenderError{Code: ErrCodeMissingField, Field: fmt.Sprintf("project_roles[%d].name", i), Message: "name is required"}
		}
		roles = append(roles, role)
	}

	var identities []IdentitySpec
	for i, raw := range listField(doc, "identities") {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, &RenderError{
				Code:    ErrCodeMissingField,
				Field:   fmt.Sprintf("identities[%d]", i),
				Message: "identity entry is not a mapping",
			}
		}
		ident := IdentitySpec{
			Name:        stringField(entry, "name"),
			Env:         stringField(entry, "env"),
			ProjectRole: stringField(entry, "project_role"),
			Auth:        mapField(entry, "auth"),
		}
		if ident.Name == "" {
			return nil, nil, &RenderError{Code: ErrCodeMissingField, Field: fmt.Sprintf("identities[%d].name", i), Message: "name is required"}
		}
		perms := mapField(entry, "permissions")
		ident.ReadPaths = stringList(perms, "read_paths")
		ident.WritePaths = stringList(perms, "write_paths")
		identities = append(identities, ident)
	}

	return roles, identities, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	if v == nil {
		return map[string]any{}
	}
	return v
}

func listField(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}

func stringList(m map[string]any, key string) []string {
	out := []string{}
	for _, v := range listField(m, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
