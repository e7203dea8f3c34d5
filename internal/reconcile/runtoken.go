package reconcile

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// RunTokenGenerator produces unique run tokens for trace and history
// correlation. Implemented by UUIDGenerator (production) and
// FixedGenerator (tests).
type RunTokenGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUID run tokens.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// FixedGenerator generates deterministic run tokens for tests.
type FixedGenerator struct {
	Prefix string
	n      atomic.Int64
}

func (g *FixedGenerator) Generate() string {
	return fmt.Sprintf("%s-%03d", g.Prefix, g.n.Add(1))
}
