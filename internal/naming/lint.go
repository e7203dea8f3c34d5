// Package naming checks resource declarations in static infrastructure
// files against the project naming convention:
// <resource_type>-<workload>-<environment>-<region>-<instance>.
package naming

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// namePattern is the required shape of a resource name.
var namePattern = regexp.MustCompile(`^[a-z]{2,5}-[a-z0-9]{2,20}-(dev|stg|prod)-(hel1|fsn1|nbg1)-[0-9]{3}$`)

// resourceDecl matches `resource "<type>" "<name>"` declarations.
var resourceDecl = regexp.MustCompile(`resource\s+"([^"]+)"\s+"([^"]+)"`)

// Abbreviations maps governed resource types to their name prefixes.
// Types outside this table are not checked.
var Abbreviations = map[string]string{
	"hetzner_server":      "hcs",
	"hetzner_firewall":    "hcfw",
	"hetzner_network":     "hcn",
	"hetzner_volume":      "hcv",
	"infisical_project":   "prj",
	"infisical_group":     "grp",
	"terraform_workspace": "tfw",
}

// Violation is one naming-convention failure.
type Violation struct {
	File     string
	Resource string // "<type>.<name>"
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s does not follow naming convention", v.File, v.Resource)
}

// LintDir scans every .tf file under root and returns violations sorted by
// file and resource.
func LintDir(root string) ([]Violation, error) {
	var violations []Violation

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tf") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, lintFile(path, string(data))...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Resource < violations[j].Resource
	})
	return violations, nil
}

func lintFile(path, content string) []Violation {
	var out []Violation
	for _, match := range resourceDecl.FindAllStringSubmatch(content, -1) {
		resourceType, resourceName := match[1], match[2]
		abbrev, governed := Abbreviations[resourceType]
		if !governed {
			continue
		}
		if !namePattern.MatchString(resourceName) || !strings.HasPrefix(resourceName, abbrev+"-") {
			out = append(out, Violation{File: path, Resource: resourceType + "." + resourceName})
		}
	}
	return out
}
