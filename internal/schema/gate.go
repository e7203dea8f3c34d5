// Package schema is the pre-apply schema gate: artifacts are validated
// against published JSON Schemas before reconciliation touches a platform.
// The engine consumes its output as pass/fail with a field-level error
// list.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/verlyn13/fabricctl/internal/artifact"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[artifact.Kind]string{
	artifact.KindProjectRole:     "schemas/projectrole.schema.json",
	artifact.KindMachineIdentity: "schemas/machineidentity.schema.json",
	artifact.KindProjectBinding:  "schemas/projectbinding.schema.json",
}

// FieldError is one schema violation, located by instance path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Gate validates artifacts against the published schemas. Schemas are
// compiled once at construction.
type Gate struct {
	schemas map[artifact.Kind]*jsonschema.Schema
}

// NewGate compiles the embedded schemas.
func NewGate() (*Gate, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	for kind, file := range schemaFiles {
		data, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading schema for %s: %w", kind, err)
		}
		if err := compiler.AddResource(file, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("adding schema for %s: %w", kind, err)
		}
	}

	g := &Gate{schemas: make(map[artifact.Kind]*jsonschema.Schema, len(schemaFiles))}
	for kind, file := range schemaFiles {
		sch, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", kind, err)
		}
		g.schemas[kind] = sch
	}
	return g, nil
}

// Validate checks one artifact. A nil slice means the artifact passed;
// kinds without a published schema pass trivially.
func (g *Gate) Validate(a *artifact.Artifact) ([]FieldError, error) {
	sch, ok := g.schemas[a.Kind]
	if !ok {
		return nil, nil
	}

	// Round-trip through JSON so the validator sees plain maps.
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", a.Ref(), err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", a.Ref(), err)
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, err
	}
	return flatten(ve), nil
}

// ValidateSet checks every artifact in a set, keyed by identity.
func (g *Gate) ValidateSet(set *artifact.Set) (map[artifact.Ref][]FieldError, error) {
	failures := make(map[artifact.Ref][]FieldError)
	for _, a := range set.All() {
		errs, err := g.Validate(a)
		if err != nil {
			return nil, err
		}
		if len(errs) > 0 {
			failures[a.Ref()] = errs
		}
	}
	return failures, nil
}

// flatten walks the validation error tree into leaf field errors.
func flatten(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		path := strings.TrimPrefix(ve.InstanceLocation, "/")
		path = strings.ReplaceAll(path, "/", ".")
		return []FieldError{{Path: path, Message: ve.Message}}
	}
	var out []FieldError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
