// Stub credentials server used by the harness tests. It honors the same
// contract the harness relies on: a --config file carrying the listening
// port, a --test-mode flag, and a clean exit on SIGINT.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "server configuration file")
	flag.String("pid-file", "", "pid file path (recorded by the launcher)")
	testMode := flag.Bool("test-mode", false, "enable test mode")
	flag.Parse()

	if !*testMode {
		fmt.Fprintln(os.Stderr, "refusing to start outside test mode")
		os.Exit(1)
	}

	port, err := readPort(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("listening on %s\n", ln.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	go func() {
		<-sig
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

func readPort(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot read config: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "port"); ok {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "=")), nil
		}
	}
	return "", fmt.Errorf("no port in config %s", path)
}
