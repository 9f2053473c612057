// Package main provides a debug client that sends one message to the game
// server and prints the replies it receives.
//
// Example:
//
//	msgclient -op PGMSG_EQUIP -f D:1201 -f B:8
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// fieldList collects repeated -f flags.
type fieldList []string

func (f *fieldList) String() string     { return strings.Join(*f, " ") }
func (f *fieldList) Set(v string) error { *f = append(*f, v); return nil }

func main() {
	addr := flag.String("addr", "127.0.0.1:9604", "game server address")
	opFlag := flag.String("op", "", "opcode name (PGMSG_SAY) or number (0x02A0) (required)")
	wait := flag.Duration("wait", 2*time.Second, "how long to wait for replies")
	var fields fieldList
	flag.Var(&fields, "f", "payload field TYPE:VALUE; TYPE is B, W, D, S (length-prefixed) or S<n> (fixed length); repeatable")
	flag.Parse()

	if *opFlag == "" {
		flag.Usage()
		os.Exit(1)
	}
	op, err := parseOpcode(*opFlag)
	if err != nil {
		log.Fatalf("parsing opcode: %v", err)
	}
	out := message.NewOut(op)
	for _, f := range fields {
		if err := writeField(out, f); err != nil {
			log.Fatalf("field %q: %v", f, err)
		}
	}

	frame, err := network.EncodeFrame(out.Bytes(), network.DefaultMaxFrameSize)
	if err != nil {
		log.Fatalf("encoding message: %v", err)
	}

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		log.Fatalf("connecting to %s: %v", *addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(frame); err != nil {
		log.Fatalf("sending: %v", err)
	}
	fmt.Printf("-> %s (%d bytes)\n", op, out.Len())

	dec := network.NewDecoder(network.DefaultMaxFrameSize)
	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(*wait))
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			bodies, derr := dec.Decode(buf[:n])
			if derr != nil {
				log.Fatalf("decoding reply: %v", derr)
			}
			for _, body := range bodies {
				printReply(body)
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}
			fmt.Printf("connection closed: %v\n", err)
			return
		}
	}
}

func parseOpcode(s string) (protocol.Opcode, error) {
	if op, ok := protocol.Names()[strings.ToUpper(s)]; ok {
		return op, nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
	return protocol.Opcode(n), nil
}

func writeField(out *message.Out, spec string) error {
	kind, value, ok := strings.Cut(spec, ":")
	if !ok {
		return errors.New("expected TYPE:VALUE")
	}
	kind = strings.ToUpper(kind)
	switch kind {
	case "B", "W", "D":
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return err
		}
		switch kind {
		case "B":
			out.WriteInt8(int8(n))
		case "W":
			out.WriteInt16(int16(n))
		default:
			out.WriteInt32(int32(n))
		}
	case "S":
		out.WriteString(value, -1)
	default:
		if !strings.HasPrefix(kind, "S") {
			return fmt.Errorf("unknown field type %q", kind)
		}
		length, err := strconv.Atoi(kind[1:])
		if err != nil || length <= 0 {
			return fmt.Errorf("bad fixed string length in %q", kind)
		}
		out.WriteString(value, length)
	}
	return nil
}

func printReply(body []byte) {
	in, err := message.NewIn(body)
	if err != nil {
		fmt.Printf("<- malformed reply: %v\n", err)
		return
	}
	fmt.Printf("<- %s (%d bytes):", in.Opcode(), in.Len())
	for _, b := range body[2:] {
		fmt.Printf(" %02x", b)
	}
	fmt.Println()
}
