// Package store is the on-disk artifact store: one directory per project,
// one file per artifact, addressable by (kind, name).
//
// Layout under the output root:
//
//	<out>/<project>/ProjectRole_<slug>.yaml
//	<out>/<project>/identity_<name>.yaml
//	<out>/<project>/binding_<name>.yaml
//	<out>/<project>/vercel-env.json
//	<out>/<project>/supabase-config.json
//
// Files are matched for apply by glob prefix and sorted lexicographically
// before processing; that sort is what makes stage-internal order
// deterministic.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/verlyn13/fabricctl/internal/artifact"
	"github.com/verlyn13/fabricctl/internal/render"
)

// Platform manifest file names.
const (
	VercelManifest   = "vercel-env.json"
	SupabaseManifest = "supabase-config.json"
)

// Store is a directory of rendered artifacts keyed by project.
type Store struct {
	root string
}

// New creates a store rooted at the given output directory.
func New(root string) *Store {
	return &Store{root: root}
}

// ProjectDir returns the artifact directory for a project.
func (s *Store) ProjectDir(project string) string {
	return filepath.Join(s.root, project)
}

// FileName returns the artifact's file name within its project directory.
func FileName(a *artifact.Artifact) string {
	switch a.Kind {
	case artifact.KindProjectRole:
		return fmt.Sprintf("ProjectRole_%s.yaml", a.Metadata.Slug)
	case artifact.KindMachineIdentity:
		return fmt.Sprintf("identity_%s.yaml", a.Metadata.Name)
	case artifact.KindProjectBinding:
		return fmt.Sprintf("binding_%s.yaml", a.Metadata.Name)
	}
	return fmt.Sprintf("%s_%s.yaml", a.Kind, a.Metadata.Name)
}

// WriteSet serializes a render output into the project directory.
// Re-rendering overwrites the prior file for each identity, so a render is
// idempotent and total: same policy input, same bytes on disk.
func (s *Store) WriteSet(project string, out *render.Output) error {
	dir := s.ProjectDir(project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	for _, a := range out.Artifacts.All() {
		data, err := artifact.MarshalCanonical(a)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, FileName(a))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	if out.Vercel != nil {
		if err := s.writeManifest(dir, VercelManifest, out.Vercel); err != nil {
			return err
		}
	}
	if out.Supabase != nil {
		if err := s.writeManifest(dir, SupabaseManifest, out.Supabase); err != nil {
			return err
		}
	}
	return nil
}

// writeManifest writes a platform document as indented JSON. Go's JSON
// encoder sorts map keys, which keeps manifests byte-stable across renders.
func (s *Store) writeManifest(dir, name string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// MalformedArtifact records a file that matched an artifact glob but failed
// to parse. Malformed files are surfaced as failed resources, not fatal
// errors, so one bad file does not hide the rest of the set.
type MalformedArtifact struct {
	File string
	Kind artifact.Kind
	Err  error
}

// LoadResult is the outcome of loading a project's artifact directory.
type LoadResult struct {
	Set       *artifact.Set
	Malformed []MalformedArtifact
}

// Load reads every artifact file for a project. A missing directory is
// fatal (ErrCodeDirMissing); malformed files are collected per resource.
func (s *Store) Load(project string) (*LoadResult, error) {
	dir := s.ProjectDir(project)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, &StoreError{Code: ErrCodeDirMissing, Message: fmt.Sprintf("artifact directory not found: %s", dir)}
	}

	result := &LoadResult{Set: artifact.NewSet()}

	globs := []struct {
		pattern string
		kind    artifact.Kind
	}{
		{"ProjectRole_*.yaml", artifact.KindProjectRole},
		{"identity_*.yaml", artifact.KindMachineIdentity},
		{"binding_*.yaml", artifact.KindProjectBinding},
	}

	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(dir, g.pattern))
		if err != nil {
			return nil, &StoreError{Code: ErrCodeDirMissing, Message: fmt.Sprintf("scanning %s: %v", dir, err)}
		}
		sort.Strings(matches)

		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				result.Malformed = append(result.Malformed, MalformedArtifact{File: filepath.Base(path), Kind: g.kind, Err: err})
				continue
			}
			a, err := artifact.Decode(data)
			if err != nil {
				result.Malformed = append(result.Malformed, MalformedArtifact{File: filepath.Base(path), Kind: g.kind, Err: err})
				continue
			}
			if a.Kind != g.kind {
				result.Malformed = append(result.Malformed, MalformedArtifact{
					File: filepath.Base(path),
					Kind: g.kind,
					Err:  fmt.Errorf("file declares kind %s, expected %s", a.Kind, g.kind),
				})
				continue
			}
			if err := result.Set.Add(a); err != nil {
				result.Malformed = append(result.Malformed, MalformedArtifact{File: filepath.Base(path), Kind: g.kind, Err: err})
			}
		}
	}

	return result, nil
}

// ReadManifest loads a platform manifest for a project. A missing manifest
// is fatal to platform reconciliation.
func (s *Store) ReadManifest(project, name string) (map[string]any, error) {
	path := filepath.Join(s.ProjectDir(project), name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &StoreError{Code: ErrCodeManifestMissing, Message: fmt.Sprintf("manifest not found: %s (run render first)", path)}
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &StoreError{Code: ErrCodeManifestParse, Message: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return doc, nil
}
