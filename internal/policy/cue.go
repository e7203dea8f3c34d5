package policy

import (
	"context"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// CUESource evaluates policy data written in CUE. The data directory is
// loaded once at construction; queries are lookups against the built value.
type CUESource struct {
	value cue.Value
}

// NewCUESource loads and builds the CUE package rooted at dir.
func NewCUESource(dir string) (*CUESource, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &SourceError{Code: ErrCodeDirNotFound, Message: fmt.Sprintf("policy directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &SourceError{Code: ErrCodeDirNotFound, Message: fmt.Sprintf("accessing policy directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &SourceError{Code: ErrCodeDirNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &SourceError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &SourceError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &SourceError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	return &CUESource{value: value}, nil
}

// Query looks up a dotted path in the built value and decodes it.
func (s *CUESource) Query(_ context.Context, path string) (Document, error) {
	v := s.value.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return nil, &SourceError{Code: ErrCodeDocNotFound, Message: fmt.Sprintf("document %q not found in policy data", path)}
	}
	if err := v.Err(); err != nil {
		return nil, &SourceError{Code: ErrCodeEvalFailed, Message: fmt.Sprintf("evaluating %q: %v", path, err)}
	}

	var doc Document
	if err := v.Decode(&doc); err != nil {
		return nil, &SourceError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding %q: %v", path, err)}
	}
	return doc, nil
}
