// Package policy adapts policy evaluation engines into document sources.
//
// The rest of the system never evaluates rules itself; it asks a Source for
// named documents and treats the result as opaque structured data. Two
// sources are provided: an in-process CUE evaluator and a subprocess adapter
// for OPA.
package policy

import (
	"context"
	"fmt"
)

// Document names queried during a render pass.
const (
	DocJournal  = "infisical.journal"
	DocVercel   = "platforms.vercel"
	DocSupabase = "platforms.supabase"
)

// Document is the opaque structured value a source returns for one query
// path. No shape is enforced here; the renderer interprets it.
type Document map[string]any

// Source queries a policy evaluation engine for named documents.
type Source interface {
	// Query evaluates the document at the given dotted path. Returns a
	// SourceError with code DOC_NOT_FOUND when the path resolves to nothing.
	Query(ctx context.Context, path string) (Document, error)
}

// SourceError codes.
const (
	ErrCodeDirNotFound  = "POLICY_DIR_NOT_FOUND"
	ErrCodeLoadFailed   = "POLICY_LOAD_FAILED"
	ErrCodeDocNotFound  = "DOC_NOT_FOUND"
	ErrCodeEvalFailed   = "POLICY_EVAL_FAILED"
	ErrCodeDecodeFailed = "POLICY_DECODE_FAILED"
)

// SourceError is a structured error from a policy source.
type SourceError struct {
	Code    string
	Message string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
