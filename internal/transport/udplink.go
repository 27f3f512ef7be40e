package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// UDPLink is a reference TransportLink over UDP unicast/broadcast,
// standing in for a real short-range radio (BLE, Wi-Fi Direct, LoRa)
// during local development and testing. A production deployment
// replaces it with an adapter for the target radio hardware; nothing
// above this interface needs to change when that happens.
type UDPLink struct {
	conn        *net.UDPConn
	localPeerID string

	mu    sync.RWMutex
	peers map[string]*net.UDPAddr

	inbound chan InboundFrame
	done    chan struct{}
}

// NewUDPLink opens a UDP socket at listenAddr (e.g. "0.0.0.0:9500") and
// begins receiving frames in the background.
func NewUDPLink(localPeerID, listenAddr string) (*UDPLink, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	l := &UDPLink{
		conn:        conn,
		localPeerID: localPeerID,
		peers:       make(map[string]*net.UDPAddr),
		inbound:     make(chan InboundFrame, 256),
		done:        make(chan struct{}),
	}
	go l.receiveLoop()
	return l, nil
}

// AddPeer registers peerID's UDP address so Send/Broadcast can reach it.
// A real radio adapter discovers neighbors over the air instead; this is
// the LAN-testing substitute for that discovery step.
func (l *UDPLink) AddPeer(peerID, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve peer address: %w", err)
	}
	l.mu.Lock()
	l.peers[peerID] = udpAddr
	l.mu.Unlock()
	return nil
}

func (l *UDPLink) Send(ctx context.Context, peerID string, f *Frame) error {
	l.mu.RLock()
	addr, ok := l.peers[peerID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: unknown peer %s", peerID)
	}
	_, err := l.conn.WriteToUDP(f.Encode(), addr)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", peerID, err)
	}
	return nil
}

func (l *UDPLink) Broadcast(ctx context.Context, f *Frame) error {
	l.mu.RLock()
	addrs := make([]*net.UDPAddr, 0, len(l.peers))
	for _, a := range l.peers {
		addrs = append(addrs, a)
	}
	l.mu.RUnlock()

	encoded := f.Encode()
	var lastErr error
	for _, addr := range addrs {
		if _, err := l.conn.WriteToUDP(encoded, addr); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (l *UDPLink) Inbound() <-chan InboundFrame { return l.inbound }

func (l *UDPLink) LocalPeerID() string { return l.localPeerID }

func (l *UDPLink) Close() error {
	close(l.done)
	err := l.conn.Close()
	close(l.inbound)
	return err
}

func (l *UDPLink) receiveLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				continue
			}
		}

		f, err := DecodeFrame(append([]byte(nil), buf[:n]...))
		if err != nil {
			continue
		}

		peerID := l.peerIDForAddr(addr)
		select {
		case l.inbound <- InboundFrame{PeerID: peerID, Frame: f}:
		default:
			// Inbound buffer full: drop rather than block the socket
			// reader, same policy as the dispatcher's queue-full path.
		}
	}
}

// peerIDForAddr resolves a UDP source address back to a known peer ID,
// or the address string itself if the sender is not yet in the peer
// table (e.g. an unsolicited handshake init from a newly discovered
// neighbor).
func (l *UDPLink) peerIDForAddr(addr *net.UDPAddr) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, a := range l.peers {
		if a.String() == addr.String() {
			return id
		}
	}
	return addr.String()
}

var _ TransportLink = (*UDPLink)(nil)
