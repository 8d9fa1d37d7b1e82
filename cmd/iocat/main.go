// Command iocat is a small SIS client probe: it binds a SAP, optionally
// sends one UNIDATA_REQUEST, and prints every indication the daemon sends
// back until interrupted.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hfradio/stanag5066d/internal/pdu"
	"github.com/hfradio/stanag5066d/pkg/sis"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := pflag.StringP("addr", "a", "127.0.0.1:5066", "SIS listener address")
	sap := pflag.IntP("sap", "s", 0, "SAP index to bind")
	rank := pflag.Uint8P("rank", "r", 0, "requested rank (0, with service-type 0, lets the daemon apply its configured SAP default)")
	serviceType := pflag.Uint16P("service-type", "t", 0, "requested service type")
	destAddrHex := pflag.String("dest-addr", "", "destination address as 8 hex digits, e.g. 0a000001")
	payload := pflag.StringP("send", "d", "", "if set, sends one UNIDATA_REQUEST carrying this payload")
	mode := pflag.String("mode", "arq", "transmission mode: arq, nonarq, or broadcast")
	pflag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iocat:", err)
		return 1
	}
	defer conn.Close()

	if _, err := conn.Write(sis.EncodeBindRequest(*sap, *rank, *serviceType)); err != nil {
		fmt.Fprintln(os.Stderr, "iocat: bind request:", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	transMode, err := transmissionMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "iocat:", err)
		return 1
	}

	pool := pdu.NewPool(8192)
	cache := pdu.NewWorkerCache(pool, 1)
	cur := cache.Get()

	sentUnidata := false
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "iocat: connection closed:", err)
			return 0
		}
		if len(cur.Avail()) < n {
			fmt.Fprintln(os.Stderr, "iocat: response PDU too large for local buffer")
			return 1
		}
		copy(cur.Avail(), buf[:n])
		cur.Advance(n)

		for {
			if cur.Len() < 5 {
				break
			}
			event, result := sis.Decode(cur, slog.Default())
			kind, need, reason := result.Classify()
			if kind != pdu.KindOk {
				fmt.Fprintln(os.Stderr, "iocat: decode error:", reason)
				return 1
			}
			if _, ok := need.IsMore(); ok {
				break
			}
			if event != nil {
				printEvent(event)
				if event.Type == sis.BindAccepted && !sentUnidata && *payload != "" && *destAddrHex != "" {
					destAddr, err := parseAddr(*destAddrHex)
					if err != nil {
						fmt.Fprintln(os.Stderr, "iocat:", err)
						return 1
					}
					wire := sis.EncodeUnidataRequest(*sap, destAddr, 0, transMode, []byte(*payload))
					if _, err := conn.Write(wire); err != nil {
						fmt.Fprintln(os.Stderr, "iocat: unidata request:", err)
						return 1
					}
					sentUnidata = true
				}
			}
			total := 5 + int(binary.BigEndian.Uint16(cur.Bytes()[3:5]))
			rest := append([]byte(nil), cur.Bytes()[total:]...)
			cache.Release(cur)
			cur = cache.Get()
			copy(cur.Avail(), rest)
			cur.Advance(len(rest))
		}
	}
}

func printEvent(evt *sis.Event) {
	switch evt.Type {
	case sis.BindAccepted:
		fmt.Printf("BIND_ACCEPTED sap=%d rank=%d mtu=%d\n", evt.BindAccepted.SAP, evt.BindAccepted.Rank, evt.BindAccepted.MTU)
	case sis.BindRejected:
		fmt.Println("BIND_REJECTED")
	case sis.UnbindIndication:
		fmt.Println("UNBIND_INDICATION")
	case sis.UnidataIndication:
		u := evt.UnidataIndication
		fmt.Printf("UNIDATA_INDICATION sap=%d src=%s dest=%s mode=%d payload=%s\n",
			u.DestSAP, hex.EncodeToString(u.SrcAddress[:]), hex.EncodeToString(u.DestAddress[:]), u.TransmissionMode, hex.EncodeToString(u.Payload))
	default:
		fmt.Printf("%s\n", evt.Type)
	}
}

func transmissionMode(s string) (byte, error) {
	switch s {
	case "arq":
		return sis.ModeARQ, nil
	case "nonarq":
		return sis.ModeNonARQ, nil
	case "broadcast":
		return sis.ModeBroadcast, nil
	default:
		return 0, fmt.Errorf("unknown transmission mode %q", s)
	}
}

func parseAddr(s string) ([4]byte, error) {
	var out [4]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("dest-addr %q: %w", s, err)
	}
	if len(b) != 4 {
		return out, fmt.Errorf("dest-addr %q: must decode to exactly 4 bytes", s)
	}
	copy(out[:], b)
	return out, nil
}
