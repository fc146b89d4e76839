package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/net-reflow/reflow/internal/matcher"
	"github.com/net-reflow/reflow/internal/ruleconf"
	"github.com/net-reflow/reflow/internal/socks5"
)

func TestRelayDirectEgressRoundTrip(t *testing.T) {
	// Echo server standing in for the real destination.
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()

	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	echoAddr := echoLn.Addr().(*net.TCPAddr)

	rule := &ruleconf.RoutingBranch{Kind: ruleconf.BranchFinal, Action: ruleconf.DirectEgress}
	cfg := &ruleconf.RelayConfig{Rule: rule}

	domains := matcher.NewDomainTrie()
	ips := matcher.NewIPTable()

	rl := New(cfg, domains, ips, nil, zerolog.Nop())

	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer relayLn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = rl.Serve(ctx, relayLn) }()

	client, err := net.Dial("tcp", relayLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte{socks5.Version5, 0x01, socks5.MethodNoAuth})
	require.NoError(t, err)

	sel := make([]byte, 2)
	_, err = io.ReadFull(client, sel)
	require.NoError(t, err)
	require.Equal(t, byte(socks5.Version5), sel[0])

	req := []byte{socks5.Version5, socks5.CmdConnect, 0x00, socks5.AtypIPv4}
	req = append(req, echoAddr.IP.To4()...)
	req = append(req, byte(echoAddr.Port>>8), byte(echoAddr.Port))
	_, err = client.Write(req)
	require.NoError(t, err)

	hdr := make([]byte, 3)
	_, err = io.ReadFull(client, hdr)
	require.NoError(t, err)
	require.Equal(t, byte(socks5.RepSucceeded), hdr[1])

	_, err = socks5.DecodeAddress(client)
	require.NoError(t, err)

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))

	buf := make([]byte, 4)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}
