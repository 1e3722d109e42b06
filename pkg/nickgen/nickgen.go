// Package nickgen produces the server-assigned nicknames handed to freshly
// accepted sessions. Names are two-word petnames truncated to fit the
// protocol's nickname grammar, with a random fallback when the petname space
// is exhausted by collisions.
package nickgen

import (
	"errors"
	"fmt"
	"math/rand"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/crzysdrs/CS594IRC/pkg/wire"
)

// maxLen caps generated names one character short of the nickname grammar's
// limit, leaving room for clients to append to their assigned name.
const maxLen = 9

// maxAttempts bounds petname draws before falling back to random names.
const maxAttempts = 32

// ErrExhausted is returned when no unused nickname could be generated.
var ErrExhausted = errors.New("nickname space exhausted")

// Generator draws unique nicknames. InUse reports whether a candidate is
// already held; it must be set.
type Generator struct {
	InUse func(string) bool

	// rnd is overridable for deterministic tests.
	rnd *rand.Rand
}

// New returns a Generator checking candidates against inUse.
func New(inUse func(string) bool) *Generator {
	return &Generator{InUse: inUse}
}

func (g *Generator) intn(n int) int {
	if g.rnd != nil {
		return g.rnd.Intn(n)
	}
	return rand.Intn(n)
}

// Next returns a fresh nickname: syntactically valid, not reserved, and not
// in use at the time of the check. The caller must insert it into the
// registry under the same lock that served the InUse checks.
func (g *Generator) Next() (string, error) {
	for i := 0; i < maxAttempts; i++ {
		name := petname.Generate(2, "")
		if len(name) > maxLen {
			name = name[:maxLen]
		}
		if g.usable(name) {
			return name, nil
		}
	}

	// Petname collisions are vanishingly rare below thousands of sessions,
	// but a random suffix keeps creation total.
	for i := 0; i < maxAttempts; i++ {
		name := fmt.Sprintf("user%05d", g.intn(100000))
		if g.usable(name) {
			return name, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) usable(name string) bool {
	return wire.ValidNick(name) && !wire.Reserved(name) && !g.InUse(name)
}
