package domain

import (
	"context"
	"maps"
	"net"
	"net/netip"
	"slices"

	"github.com/pkg/errors"
)

var ErrDomainNotFound = errors.New("domain not found")

type Lookuper interface {
	LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error)
}

type mapLookuper struct {
	set map[string][]netip.Addr
}

var _ Lookuper = (*mapLookuper)(nil)

// NewMapLookuper returns a static Lookuper. set is copied.
func NewMapLookuper(set map[string][]netip.Addr) *mapLookuper {
	if set == nil {
		set = make(map[string][]netip.Addr)
	}
	return &mapLookuper{set: maps.Clone(set)}
}

func (m *mapLookuper) LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error) {
	addrs, ok := m.set[domain]
	if !ok {
		return nil, errors.Wrap(ErrDomainNotFound, domain)
	}
	return slices.Clone(addrs), nil
}

func (m *mapLookuper) Set(domain string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	m.set[domain] = slices.Clone(addrs)
}

func (m *mapLookuper) Del(domain string) { delete(m.set, domain) }

type resolverLookuper struct {
	resolver *net.Resolver
}

var _ Lookuper = resolverLookuper{}

// NewResolverLookuper looks domains up with r. nil means [net.DefaultResolver].
func NewResolverLookuper(r *net.Resolver) Lookuper {
	if r == nil {
		r = net.DefaultResolver
	}
	return resolverLookuper{resolver: r}
}

func (l resolverLookuper) LookupIP(ctx context.Context, domain string) ([]netip.Addr, error) {
	addrs, err := l.resolver.LookupNetIP(ctx, "ip", domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, errors.Wrap(ErrDomainNotFound, domain)
		}
		return nil, errors.Wrapf(err, "looking up %s", domain)
	}
	if len(addrs) == 0 {
		return nil, errors.Wrap(ErrDomainNotFound, domain)
	}
	return addrs, nil
}

// Chain tries lookupers in order and returns the first answer.
func Chain(lookupers ...Lookuper) Lookuper { return chain(lookupers) }

type chain []Lookuper

func (c chain) LookupIP(ctx context.Context, domain string) ([]netip.Addr, error) {
	for _, l := range c {
		addrs, err := l.LookupIP(ctx, domain)
		if err == nil {
			return addrs, nil
		}
		if !errors.Is(err, ErrDomainNotFound) {
			return nil, err
		}
	}
	return nil, errors.Wrap(ErrDomainNotFound, domain)
}
