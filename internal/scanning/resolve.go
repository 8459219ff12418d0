package scanning

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/anstrom/neteye/internal/errors"
)

// Resolver turns a target into the address probes connect to.
type Resolver interface {
	Resolve(ctx context.Context, target string) (string, error)
}

// NetResolver resolves through the system resolver, preferring IPv4.
type NetResolver struct {
	Resolver *net.Resolver
}

// Resolve returns target unchanged when it is already an IP address.
func (r NetResolver) Resolve(ctx context.Context, target string) (string, error) {
	if addr, err := netip.ParseAddr(target); err == nil {
		return addr.Unmap().String(), nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", target)
	if err != nil {
		return "", errors.ErrInvalidTarget(target, err)
	}
	if len(addrs) == 0 {
		return "", errors.ErrInvalidTarget(target, fmt.Errorf("no addresses found"))
	}

	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap().String(), nil
		}
	}
	return addrs[0].String(), nil
}

// FixedResolver returns Address for every target. It hands a Scheduler a
// target that was already resolved by the caller.
type FixedResolver struct {
	Address string
}

// Resolve implements Resolver.
func (r FixedResolver) Resolve(context.Context, string) (string, error) {
	return r.Address, nil
}
