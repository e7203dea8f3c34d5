package artifact

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Canonical serialization: keys are emitted in a fixed declared order per
// artifact kind (not alphabetical, not map-iteration order), and strings are
// NFC normalized at the boundary. Two renders from identical policy input
// therefore produce byte-identical files, which is what makes render
// idempotence testable at the file level.

// Declared field orders. Keys absent from an artifact are skipped; keys not
// declared here (opaque spec payloads) are emitted after the declared ones,
// sorted lexicographically.
var (
	topLevelOrder = []string{"apiVersion", "kind", "metadata", "spec"}
	metadataOrder = []string{"name", "slug", "environment", "labels"}

	specOrder = map[Kind][]string{
		KindProjectRole:     {"permissions"},
		KindMachineIdentity: {"project_role", "auth"},
		KindProjectBinding:  {"identity", "project_role", "permissions"},
	}

	permissionsOrder = []string{"read_paths", "write_paths"}
)

// MarshalCanonical serializes an artifact to canonical YAML.
func MarshalCanonical(a *Artifact) ([]byte, error) {
	meta := map[string]any{"name": a.Metadata.Name}
	if a.Metadata.Slug != "" {
		meta["slug"] = a.Metadata.Slug
	}
	if a.Metadata.Environment != "" {
		meta["environment"] = a.Metadata.Environment
	}
	if len(a.Metadata.Labels) > 0 {
		labels := make(map[string]any, len(a.Metadata.Labels))
		for k, v := range a.Metadata.Labels {
			labels[k] = v
		}
		meta["labels"] = labels
	}

	root, err := orderedMapNode(map[string]any{
		"apiVersion": a.APIVersion,
		"kind":       string(a.Kind),
		"metadata":   meta,
		"spec":       a.Spec,
	}, func(path []string) []string {
		return declaredOrder(a.Kind, path)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing %s: %w", a.Ref(), err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", a.Ref(), err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// declaredOrder resolves the declared key order for a node at the given path
// from the artifact root. An empty return means no declared order (opaque
// payload, sorted keys only).
func declaredOrder(kind Kind, path []string) []string {
	switch {
	case len(path) == 0:
		return topLevelOrder
	case len(path) == 1 && path[0] == "metadata":
		return metadataOrder
	case len(path) == 1 && path[0] == "spec":
		return specOrder[kind]
	case len(path) == 2 && path[0] == "spec" && path[1] == "permissions" && kind == KindProjectBinding:
		return permissionsOrder
	}
	return nil
}

// orderedMapNode builds a yaml mapping node for m, emitting declared keys
// first (in declared order, skipping absent ones) and the remainder sorted.
func orderedMapNode(m map[string]any, orderFor func(path []string) []string, path []string) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	declared := orderFor(path)
	emitted := make(map[string]bool, len(m))

	appendEntry := func(key string) error {
		child, err := valueNode(m[key], orderFor, append(path, key))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		node.Content = append(node.Content, scalarNode(key), child)
		emitted[key] = true
		return nil
	}

	for _, key := range declared {
		if _, ok := m[key]; !ok {
			continue
		}
		if err := appendEntry(key); err != nil {
			return nil, err
		}
	}

	rest := make([]string, 0, len(m))
	for key := range m {
		if !emitted[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if err := appendEntry(key); err != nil {
			return nil, err
		}
	}

	return node, nil
}

func valueNode(v any, orderFor func(path []string) []string, path []string) (*yaml.Node, error) {
	switch val := v.(type) {
	case map[string]any:
		return orderedMapNode(val, orderFor, path)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return orderedMapNode(m, orderFor, path)
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, elem := range val {
			child, err := valueNode(elem, orderFor, path)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case []string:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range val {
			node.Content = append(node.Content, scalarNode(elem))
		}
		return node, nil
	case string, bool, int, int64, nil:
		return scalarNode(val), nil
	case float64:
		// Policy documents arrive through JSON decoders, which hand back
		// float64 for every number. Whole values stay integers on disk.
		if val == float64(int64(val)) {
			return scalarNode(int64(val)), nil
		}
		return nil, fmt.Errorf("non-integer number %v is not representable canonically", val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// scalarNode builds a scalar yaml node. Strings are NFC normalized so that
// Unicode input with mixed composition renders identically across runs.
func scalarNode(v any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	switch val := v.(type) {
	case string:
		n.SetString(norm.NFC.String(val))
	case bool:
		n.Tag = "!!bool"
		n.Value = fmt.Sprintf("%t", val)
	case int:
		n.Tag = "!!int"
		n.Value = fmt.Sprintf("%d", val)
	case int64:
		n.Tag = "!!int"
		n.Value = fmt.Sprintf("%d", val)
	case nil:
		n.Tag = "!!null"
		n.Value = "null"
	}
	return n
}
