package store

import (
	"errors"
	"fmt"
)

// StoreError codes.
const (
	ErrCodeDirMissing      = "ARTIFACT_DIR_MISSING"
	ErrCodeManifestMissing = "MANIFEST_MISSING"
	ErrCodeManifestParse   = "MANIFEST_PARSE"
)

// StoreError is a structured error from the artifact store. Directory and
// manifest errors are fatal to a reconciliation run; per-file parse errors
// are reported through LoadResult.Malformed instead.
type StoreError struct {
	Code    string
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDirMissing reports whether err is a missing artifact directory.
func IsDirMissing(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeDirMissing
}

// IsManifestMissing reports whether err is a missing platform manifest.
func IsManifestMissing(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeManifestMissing
}
