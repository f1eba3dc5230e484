// Package advert delivers raw advertisement payloads to an EventSink.
//
// The radio stack itself is external: a bridge (a BLE scanner process, a
// companion phone app, a test harness) forwards the service payloads of each
// advertisement it sees as one UDP datagram of concatenated 16-byte payloads.
package advert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/audiolibrelab/fieldcapture/internal/wire"
)

// EventSink receives scan events, one method per event kind
type EventSink interface {
	// OnDiscovery is called with the service payloads carried by one advertisement
	OnDiscovery(payloads [][]byte, at time.Time)
	// OnScanError is called once when scanning stops because of an error
	OnScanError(err error)
}

// Split cuts a datagram into payload-sized records. A trailing partial record is dropped.
func Split(datagram []byte) [][]byte {
	n := len(datagram) / wire.PayloadSize
	payloads := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		p := make([]byte, wire.PayloadSize)
		copy(p, datagram[i*wire.PayloadSize:(i+1)*wire.PayloadSize])
		payloads = append(payloads, p)
	}
	return payloads
}

// UDPScanner listens for bridged advertisements on a UDP address
type UDPScanner struct {
	addr string
	sink EventSink
	now  func() time.Time

	ready chan net.Addr
}

// NewUDPScanner creates a scanner for addr (e.g. ":47000")
func NewUDPScanner(addr string, sink EventSink) *UDPScanner {
	return &UDPScanner{
		addr:  addr,
		sink:  sink,
		now:   time.Now,
		ready: make(chan net.Addr, 1),
	}
}

// Ready yields the bound local address once listening has started
func (s *UDPScanner) Ready() <-chan net.Addr {
	return s.ready
}

// Run receives datagrams until ctx is done
func (s *UDPScanner) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		err = fmt.Errorf("failed to listen for advertisements on %s: %w", s.addr, err)
		s.sink.OnScanError(err)
		return err
	}
	defer conn.Close()

	slog.Info("Advertisement scanner listening", "addr", conn.LocalAddr().String())
	s.ready <- conn.LocalAddr()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Debug("Advertisement scanner stopped")
				return nil
			}
			err = fmt.Errorf("advertisement scan failed: %w", err)
			s.sink.OnScanError(err)
			return err
		}

		payloads := Split(buf[:n])
		if len(payloads) == 0 {
			slog.Debug("Ignoring short datagram", "from", from.String(), "bytes", n)
			continue
		}
		s.sink.OnDiscovery(payloads, s.now())
	}
}
