// Command tcpconn-client is a small interactive demo client: it connects
// to a tcpconn-server, prints every inbound message to stdout, and sends
// one message per line read from stdin.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/alxayo/tcpconn/internal/logger"
	"github.com/alxayo/tcpconn/internal/tcpconn/client"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
	"github.com/alxayo/tcpconn/internal/tcpconn/version"
)

func main() {
	fs := pflag.NewFlagSet("tcpconn-client", pflag.ContinueOnError)
	host := fs.StringP("host", "H", "127.0.0.1", "server host")
	port := fs.IntP("port", "p", 4455, "server port")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	rawMode := fs.Bool("raw", false, "speak raw mode instead of framed mode")
	rawHeaderSize := fs.Int("raw-header-size", 0, "raw mode: fixed application header size in bytes")
	rawLengthOffset := fs.Int("raw-length-offset", 0, "raw mode: byte offset of the length field")
	rawLengthSize := fs.Int("raw-length-size", 2, "raw mode: length field width in bytes (1, 2, or 4)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println(version.String)
		return
	}

	logger.Init()
	if err := logger.SetLevel(*logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", *logLevel)
	}
	log := logger.Logger().With("component", "cli")

	if *rawMode {
		runRawClient(*host, *port, *rawHeaderSize, *rawLengthOffset, *rawLengthSize, log)
		return
	}
	runFramedClient(*host, *port, log)
}

func runFramedClient(host string, port int, log *slog.Logger) {
	c := client.NewFramed(
		client.WithOnConnected[msg.Framed](func() {
			log.Info("connected", "addr", net.JoinHostPort(host, strconv.Itoa(port)))
		}),
		client.WithOnDisconnected[msg.Framed](func() { log.Info("disconnected") }),
		client.WithOnMessage[msg.Framed](func(m msg.Framed) {
			fmt.Printf("< type=%d body=%s\n", m.Type, string(m.Body))
		}),
	)
	if !c.Connect(host, port) {
		log.Warn("failed to connect", "host", host, "port", port)
		os.Exit(1)
	}
	defer c.Disconnect()

	go readStdinAndSendFramed(c)
	c.Run()
}

func runRawClient(host string, port, headerSize, lengthOffset, lengthSize int, log *slog.Logger) {
	var opts []rawheader.Option
	if headerSize > 0 {
		opts = append(opts,
			rawheader.WithHeaderSize(headerSize),
			rawheader.WithLengthOffset(lengthOffset),
			rawheader.WithLengthSize(lengthSize),
		)
	}
	desc := rawheader.New(opts...)

	c := client.NewRaw(desc,
		client.WithOnConnected[msg.Raw](func() {
			log.Info("connected", "addr", net.JoinHostPort(host, strconv.Itoa(port)))
		}),
		client.WithOnDisconnected[msg.Raw](func() { log.Info("disconnected") }),
		client.WithOnMessage[msg.Raw](func(m msg.Raw) {
			fmt.Printf("< %s\n", string(m.Body))
		}),
	)
	if !c.Connect(host, port) {
		log.Warn("failed to connect", "host", host, "port", port)
		os.Exit(1)
	}
	defer c.Disconnect()

	go readStdinAndSendRaw(c)
	c.Run()
}

// readStdinAndSendFramed sends one framed message per input line. A line of
// the form "<type> <body>" sets the message type explicitly; any other line
// is sent with type 1.
func readStdinAndSendFramed(c *client.Client[msg.Framed]) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msgType := uint32(1)
		body := line
		if parts := strings.SplitN(line, " ", 2); len(parts) == 2 {
			if t, err := strconv.ParseUint(parts[0], 10, 32); err == nil {
				msgType = uint32(t)
				body = parts[1]
			}
		}
		m := msg.NewFramed(msgType)
		m.AppendString(body)
		if err := c.Send(*m); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

func readStdinAndSendRaw(c *client.Client[msg.Raw]) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m := msg.NewRaw()
		m.AppendString(line)
		if err := c.Send(*m); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}
