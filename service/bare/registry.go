package bare

import (
	"errors"
	"math/rand"
)

var ErrEmptyRegistry = errors.New("bare server registry is empty")

// Registry is the set of relay servers a request can be sent to
type Registry interface {
	// Servers returns the configured servers in configuration order
	Servers() []string
	// Select picks the server for one relayed request
	Select() string
}

// StaticRegistry is an immutable list of relay servers
// picked from uniformly at random, it keeps no rotation state
type StaticRegistry struct {
	servers []string
}

var _ Registry = (*StaticRegistry)(nil)

func NewStaticRegistry(servers []string) (*StaticRegistry, error) {
	if len(servers) == 0 {
		return nil, ErrEmptyRegistry
	}

	return &StaticRegistry{
		servers: append([]string(nil), servers...),
	}, nil
}

func (sr *StaticRegistry) Servers() []string {
	return append([]string(nil), sr.servers...)
}

func (sr *StaticRegistry) Select() string {
	return sr.servers[rand.Intn(len(sr.servers))]
}
