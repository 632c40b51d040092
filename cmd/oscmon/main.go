// oscmon is a wire-debug utility: dump every OSC message arriving on a
// port, or send a one-off message.
//
//	oscmon listen <port>
//	oscmon send <host> <port> <address> [args...]
//
// Send arguments are parsed as ints when possible, floats next, strings
// otherwise.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "listen":
		if len(os.Args) < 3 {
			usage()
			return
		}
		port, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Printf("bad port: %v\n", err)
			os.Exit(1)
		}
		listen(port)

	case "send":
		if len(os.Args) < 5 {
			usage()
			return
		}
		host := os.Args[2]
		port, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Printf("bad port: %v\n", err)
			os.Exit(1)
		}
		send(host, port, os.Args[4], os.Args[5:])

	default:
		usage()
	}
}

func listen(port int) {
	fmt.Printf("listening on :%d\n", port)
	server := &osc.Server{
		Addr:       fmt.Sprintf(":%d", port),
		Dispatcher: dumpDispatcher{},
	}
	if err := server.ListenAndServe(); err != nil {
		fmt.Printf("listen failed: %v\n", err)
		os.Exit(1)
	}
}

type dumpDispatcher struct{}

func (dumpDispatcher) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		fmt.Println(p.String())
	case *osc.Bundle:
		for _, m := range p.Messages {
			fmt.Println(m.String())
		}
	}
}

func send(host string, port int, address string, args []string) {
	msg := osc.NewMessage(address)
	for _, a := range args {
		if i, err := strconv.Atoi(a); err == nil {
			msg.Append(int32(i))
			continue
		}
		if f, err := strconv.ParseFloat(a, 32); err == nil {
			msg.Append(float32(f))
			continue
		}
		msg.Append(a)
	}

	client := osc.NewClient(host, port)
	if err := client.Send(msg); err != nil {
		fmt.Printf("send failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sent %s\n", msg.String())
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  oscmon listen <port>")
	fmt.Println("  oscmon send <host> <port> <address> [args...]")
}
