package reconcile

import (
	"errors"
	"fmt"

	"github.com/verlyn13/fabricctl/internal/artifact"
)

// ResourceError codes.
const (
	ErrCodeArtifactParse = "ARTIFACT_PARSE"
	ErrCodeMissingField  = "MISSING_FIELD"
	ErrCodeRemoteApply   = "REMOTE_APPLY"
)

// ResourceError is a per-resource failure. These are caught at the resource
// boundary, recorded, and processing continues: one invocation surfaces the
// complete set of problems.
type ResourceError struct {
	Code string
	Ref  artifact.Ref
	Path string // set for per-path binding failures
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s path %s: %v", e.Code, e.Ref, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Ref, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// IsRemoteApplyError reports whether err is a failed adapter call.
func IsRemoteApplyError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re) && re.Code == ErrCodeRemoteApply
}
