// Command synccat is a DTS wire-level inspection tool: it connects to a
// peer port and prints a colorized hex dump of every read chunk alongside
// a decoded summary line for each D_PDU extracted from it. It can also
// replay a single raw frame supplied as a hex string.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/hfradio/stanag5066d/internal/pdu"
	"github.com/hfradio/stanag5066d/pkg/dts"
)

var dtypeNames = map[dts.DType]string{
	dts.DataOnly:        "DATA_ONLY",
	dts.AckOnly:         "ACK_ONLY",
	dts.DataAck:         "DATA_ACK",
	dts.Reset:           "RESET",
	dts.EDataOnly:       "EDATA_ONLY",
	dts.EAckOnly:        "EACK_ONLY",
	dts.Management:      "MANAGEMENT",
	dts.NonARQ:          "NON_ARQ",
	dts.ExpeditedNonARQ: "EXPEDITED_NON_ARQ",
	dts.Warning:         "WARNING",
}

func main() {
	os.Exit(run())
}

func run() int {
	addr := pflag.StringP("addr", "a", "127.0.0.1:5067", "DTS listener address")
	replayHex := pflag.String("replay", "", "send a single raw D_PDU given as a hex string, then listen")
	pflag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "synccat:", err)
		return 1
	}
	defer conn.Close()

	if *replayHex != "" {
		raw, err := hex.DecodeString(*replayHex)
		if err != nil {
			fmt.Fprintln(os.Stderr, "synccat: -replay:", err)
			return 1
		}
		if _, err := conn.Write(raw); err != nil {
			fmt.Fprintln(os.Stderr, "synccat: replay write:", err)
			return 1
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	pool := pdu.NewPool(8192)
	cache := pdu.NewWorkerCache(pool, 1)
	cur := cache.Get()

	syncColor := color.New(color.FgMagenta, color.Bold)
	typeColor := color.New(color.FgYellow)
	addrColor := color.New(color.FgGreen)
	plainColor := color.New(color.FgWhite)

	buf := make([]byte, 4096)
	chunk := 0
	for {
		n, err := conn.Read(buf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "synccat: connection closed:", err)
			return 0
		}
		chunk++
		fmt.Printf("--- chunk %d (%d bytes) ---\n", chunk, n)
		dumpColorized(buf[:n], syncColor, typeColor, addrColor, plainColor)

		if len(cur.Avail()) < n {
			cache.Release(cur)
			cur = cache.Get()
		}
		copy(cur.Avail(), buf[:n])
		cur.Advance(n)

		// dts.Decode records each frame's total length (DeclaredSize) as
		// soon as its header is complete, so bytes past the end of a
		// decoded frame are moved into a fresh PDU and decoded on the next
		// pass of this loop.
		for {
			frame, result := dts.Decode(cur, slog.Default())
			kind, need, reason := result.Classify()
			switch kind {
			case pdu.KindDiscard:
				fmt.Println("  discarded:", reason)
				cache.Release(cur)
				cur = cache.Get()
			case pdu.KindCloseConnection, pdu.KindFatal:
				fmt.Println("  fatal:", reason)
				return 1
			case pdu.KindOk:
				if _, more := need.IsMore(); more {
					goto nextChunk
				}
				if frame != nil {
					printFrame(frame)
				}
				declared := cur.DeclaredSize()
				if declared >= 0 && cur.Len() > declared {
					next := cache.Get()
					pdu.CopySurplus(cur, next)
					cache.Release(cur)
					cur = next
					continue
				}
				cache.Release(cur)
				cur = cache.Get()
			}
		}
	nextChunk:
	}
}

func printFrame(f *dts.Frame) {
	name, ok := dtypeNames[f.DType]
	if !ok {
		name = fmt.Sprintf("UNKNOWN(%d)", f.DType)
	}
	fmt.Printf("  %s eow=%d eot=%d src=%s dst=%s expedited=%v payload_len=%d\n",
		name, f.EOW, f.EOT, hex.EncodeToString(f.SrcAddr), hex.EncodeToString(f.DstAddr), f.Expedited, len(f.Payload))
}

// dumpColorized prints raw as a hex dump, 16 bytes per line, highlighting
// the sync bytes, the D_TYPE/EOW byte, and a guessed address span (the
// first few bytes after the fixed header) for quick visual parsing. It
// does not track per-frame boundaries across chunks: a chunk may hold one
// partial frame, one complete frame, or several.
func dumpColorized(raw []byte, syncC, typeC, addrC, plainC *color.Color) {
	for i, b := range raw {
		c := plainC
		switch {
		case i < 2:
			c = syncC
		case i == 2 || i == 3:
			c = typeC
		case i >= 6 && i < 13:
			c = addrC
		}
		c.Printf("%02x ", b)
		if (i+1)%16 == 0 {
			fmt.Println()
		}
	}
	if len(raw)%16 != 0 {
		fmt.Println()
	}
}
