package placement

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// encodeAddr turns a "host:port" TCP listen address into a self-describing
// "/ip4/<host>/tcp/<port>" multiaddr string, the payload the destination
// publishes on federation/src/<i>.
func encodeAddr(hostport string) (string, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("placement: split %q: %w", hostport, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	m, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%s", host, port))
	if err != nil {
		return "", fmt.Errorf("placement: encode %q: %w", hostport, err)
	}
	return m.String(), nil
}

// decodeAddr parses a multiaddr string back into a dialable "host:port".
func decodeAddr(encoded string) (string, error) {
	m, err := ma.NewMultiaddr(encoded)
	if err != nil {
		return "", fmt.Errorf("placement: decode %q: %w", encoded, err)
	}
	host, err := m.ValueForProtocol(ma.P_IP4)
	if err != nil {
		return "", fmt.Errorf("placement: %q has no ip4 component: %w", encoded, err)
	}
	port, err := m.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("placement: %q has no tcp component: %w", encoded, err)
	}
	return net.JoinHostPort(host, port), nil
}
