package wsrpc

import (
	"io"
	"math/rand"
	"sync"

	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"
)

// idGenerator produces call ids of the form "<method>~<ulid>". The ULID's
// monotonic entropy keeps ids distinct within the same millisecond.
type idGenerator struct {
	mu      sync.Mutex
	clock   clock.Clock
	entropy io.Reader
}

func newIDGenerator(clk clock.Clock) *idGenerator {
	return &idGenerator{
		clock:   clk,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(clk.Now().UnixNano())), 0),
	}
}

func (g *idGenerator) next(method string) (string, error) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", err
	}
	return method + "~" + id.String(), nil
}
