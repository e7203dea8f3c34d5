package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// OPASource queries an Open Policy Agent data tree by shelling out to
// `opa eval`. The opa binary must be on PATH; every query is a fresh
// subprocess bounded by the caller's context.
type OPASource struct {
	dataDir string
	binary  string
}

// NewOPASource creates a source over the given OPA data directory.
func NewOPASource(dataDir string) *OPASource {
	return &OPASource{dataDir: dataDir, binary: "opa"}
}

// opaResult mirrors the `opa eval -f json` output envelope.
type opaResult struct {
	Result []struct {
		Expressions []struct {
			Value json.RawMessage `json:"value"`
		} `json:"expressions"`
	} `json:"result"`
}

// Query runs `opa eval -d <dir> -f json data.<path>` and unwraps the value.
func (s *OPASource) Query(ctx context.Context, path string) (Document, error) {
	cmd := exec.CommandContext(ctx, s.binary, "eval", "-d", s.dataDir, "-f", "json", "data."+path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &SourceError{
			Code:    ErrCodeEvalFailed,
			Message: fmt.Sprintf("opa eval data.%s: %v: %s", path, err, bytes.TrimSpace(stderr.Bytes())),
		}
	}

	var out opaResult
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &SourceError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("parsing opa output for data.%s: %v", path, err)}
	}
	if len(out.Result) == 0 || len(out.Result[0].Expressions) == 0 {
		return nil, &SourceError{Code: ErrCodeDocNotFound, Message: fmt.Sprintf("document %q not found in OPA data", path)}
	}

	var doc Document
	if err := json.Unmarshal(out.Result[0].Expressions[0].Value, &doc); err != nil {
		return nil, &SourceError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding data.%s: %v", path, err)}
	}
	return doc, nil
}
