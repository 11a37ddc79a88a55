package probe

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/anstrom/inventorama/internal/logging"
)

const (
	protocolICMP = 1
	maxReplySize = 1500
)

var echoPayload = []byte("inventorama-probe")

// ICMPProber sends a single ICMP echo request and waits for the matching
// reply. It prefers an unprivileged datagram socket and falls back to a raw
// socket when the platform does not allow the former.
type ICMPProber struct {
	logger *logging.Logger
	id     int
	seq    atomic.Uint32
}

// NewICMPProber creates an ICMP echo prober.
func NewICMPProber(logger *logging.Logger) *ICMPProber {
	return &ICMPProber{
		logger: logger.WithComponent("probe.icmp"),
		id:     os.Getpid() & 0xffff,
	}
}

// Probe implements Prober.
func (p *ICMPProber) Probe(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ip := net.ParseIP(address).To4()
	if ip == nil {
		return false, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, privileged, err := listenICMP()
	if err != nil {
		p.logger.Debug("cannot open ICMP socket", "target", address, "error", err)
		return false, nil
	}
	defer conn.Close()

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if privileged {
		dst = &net.IPAddr{IP: ip}
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: echoPayload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, nil
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		p.logger.Debug("ICMP send failed", "target", address, "error", err)
		return false, ctx.Err()
	}

	if deadline, ok := probeCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(probeCtx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxReplySize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return false, ctx.Err()
		}
		if matchEchoReply(buf[:n], peer, ip, p.id, seq, privileged) {
			return true, nil
		}
	}
}

// listenICMP opens an unprivileged ICMP socket, or a raw one as fallback.
func listenICMP() (*icmp.PacketConn, bool, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err == nil {
		return conn, false, nil
	}
	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr != nil {
		return nil, false, rawErr
	}
	return conn, true, nil
}

// matchEchoReply reports whether packet is the reply to our request.
// Datagram sockets have their identifier rewritten by the kernel, so the
// identifier is only compared on raw sockets.
func matchEchoReply(packet []byte, peer net.Addr, want net.IP, id, seq int, privileged bool) bool {
	reply, err := icmp.ParseMessage(protocolICMP, packet)
	if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
		return false
	}
	echo, ok := reply.Body.(*icmp.Echo)
	if !ok || echo.Seq != seq {
		return false
	}
	if privileged && echo.ID != id {
		return false
	}
	return peerIP(peer).Equal(want)
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}
