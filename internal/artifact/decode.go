package artifact

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Decode parses a serialized artifact and checks its identifying fields.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing artifact: %w", err)
	}
	if a.APIVersion == "" {
		return nil, fmt.Errorf("artifact missing apiVersion")
	}
	if !ValidKinds[a.Kind] {
		return nil, fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	if a.Metadata.Name == "" {
		return nil, fmt.Errorf("%s artifact missing metadata.name", a.Kind)
	}
	return &a, nil
}
