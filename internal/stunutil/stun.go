// Package stunutil discovers the host's public address so each run can be
// tied to the uplink it measured.
package stunutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// ErrNoServers is returned when no STUN server is configured.
var ErrNoServers = errors.New("no STUN servers configured")

// Mapping is the public side of the host's UDP mapping.
type Mapping struct {
	Addr    string
	NATType string
}

// Discover asks each server for the mapped address and returns the first
// one, classifying the NAT when more than one server answered.
func Discover(ctx context.Context, servers []string, timeout time.Duration) (Mapping, error) {
	if len(servers) == 0 {
		return Mapping{NATType: NATTypeUnknown}, ErrNoServers
	}

	addrs := make([]string, 0, len(servers))
	var lastErr error
	for _, server := range servers {
		addr, err := bindingRequest(ctx, server, timeout)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			continue
		}
		addrs = append(addrs, addr)
	}

	if len(addrs) == 0 {
		return Mapping{NATType: NATTypeUnknown}, lastErr
	}
	return Mapping{Addr: addrs[0], NATType: Classify(addrs)}, nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func serverURI(server string) (*stun.URI, error) {
	s := strings.TrimSpace(server)
	if s == "" {
		return nil, errors.New("empty STUN server")
	}
	if !strings.HasPrefix(s, "stun:") {
		s = "stun:" + s
	}
	return stun.ParseURI(s)
}

func bindingRequest(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uri, err := serverURI(server)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		addr string
		err  error
	}
	done := make(chan reply, 2)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	go func() {
		err := client.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				done <- reply{err: ev.Error}
				return
			}
			var mapped stun.XORMappedAddress
			if err := mapped.GetFrom(ev.Message); err != nil {
				done <- reply{err: err}
				return
			}
			done <- reply{addr: mapped.String()}
		})
		if err != nil {
			done <- reply{err: err}
		}
	}()

	select {
	case r := <-done:
		return r.addr, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
