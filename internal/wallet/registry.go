package wallet

import (
	"errors"
	"fmt"
	"strings"

	"lighter-hedge-bot/internal/config"
	"lighter-hedge-bot/internal/lighter"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrConfiguration = errors.New("invalid wallet pair configuration")
	ErrUnknownWallet = errors.New("unknown wallet address")
)

// Pair holds the two wallets of one hedge. Immutable after registration.
type Pair struct {
	AddressA string
	AddressB string
	ClientA  lighter.Client
	ClientB  lighter.Client
}

func (p *Pair) Contains(address string) bool {
	address = normalize(address)
	return p.AddressA == address || p.AddressB == address
}

// Opposite returns the hedge counterpart of address within the pair.
func (p *Pair) Opposite(address string) (string, lighter.Client, error) {
	switch normalize(address) {
	case p.AddressA:
		return p.AddressB, p.ClientB, nil
	case p.AddressB:
		return p.AddressA, p.ClientA, nil
	default:
		return "", nil, fmt.Errorf("address %s not in pair: %w", address, ErrUnknownWallet)
	}
}

func (p *Pair) Client(address string) (lighter.Client, error) {
	switch normalize(address) {
	case p.AddressA:
		return p.ClientA, nil
	case p.AddressB:
		return p.ClientB, nil
	default:
		return nil, fmt.Errorf("address %s not in pair: %w", address, ErrUnknownWallet)
	}
}

// ClientFactory builds the exchange handle for one wallet address.
type ClientFactory func(address, apiKey string) (lighter.Client, error)

// Registry is the read-only set of registered pairs and their handles.
type Registry struct {
	pairs   []*Pair
	clients map[string]lighter.Client
}

// Register validates every pair definition before constructing any
// client: malformed addresses, self-pairing and address reuse across
// pairs are all configuration errors surfaced before a single network
// handle exists.
func Register(defs []config.PairDefinition, newClient ClientFactory) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no wallet pairs defined: %w", ErrConfiguration)
	}
	if newClient == nil {
		return nil, errors.New("client factory is required")
	}
	seen := make(map[string]struct{}, len(defs)*2)
	for i, def := range defs {
		a := normalize(def.AddressA)
		b := normalize(def.AddressB)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("pair %d: address_a %q is not a valid address: %w", i, def.AddressA, ErrConfiguration)
		}
		if !common.IsHexAddress(b) {
			return nil, fmt.Errorf("pair %d: address_b %q is not a valid address: %w", i, def.AddressB, ErrConfiguration)
		}
		if a == b {
			return nil, fmt.Errorf("pair %d: self-pairing %s: %w", i, a, ErrConfiguration)
		}
		if _, dup := seen[a]; dup {
			return nil, fmt.Errorf("pair %d: address %s already registered: %w", i, a, ErrConfiguration)
		}
		if _, dup := seen[b]; dup {
			return nil, fmt.Errorf("pair %d: address %s already registered: %w", i, b, ErrConfiguration)
		}
		seen[a] = struct{}{}
		seen[b] = struct{}{}
	}

	reg := &Registry{clients: make(map[string]lighter.Client, len(defs)*2)}
	for _, def := range defs {
		a := normalize(def.AddressA)
		b := normalize(def.AddressB)
		clientA, err := newClient(a, def.APIKeyA)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("client for %s: %w", a, err)
		}
		reg.clients[a] = clientA
		clientB, err := newClient(b, def.APIKeyB)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("client for %s: %w", b, err)
		}
		reg.clients[b] = clientB
		reg.pairs = append(reg.pairs, &Pair{AddressA: a, AddressB: b, ClientA: clientA, ClientB: clientB})
	}
	return reg, nil
}

func (r *Registry) Pairs() []*Pair {
	return r.pairs
}

func (r *Registry) ResolveClient(address string) (lighter.Client, error) {
	client, ok := r.clients[normalize(address)]
	if !ok {
		return nil, fmt.Errorf("address %s: %w", address, ErrUnknownWallet)
	}
	return client, nil
}

// PairFor returns the pair containing address.
func (r *Registry) PairFor(address string) (*Pair, error) {
	for _, pair := range r.pairs {
		if pair.Contains(address) {
			return pair, nil
		}
	}
	return nil, fmt.Errorf("address %s: %w", address, ErrUnknownWallet)
}

func (r *Registry) Addresses() []string {
	out := make([]string, 0, len(r.clients))
	for _, pair := range r.pairs {
		out = append(out, pair.AddressA, pair.AddressB)
	}
	return out
}

func (r *Registry) Close() {
	for _, client := range r.clients {
		_ = client.Close()
	}
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
