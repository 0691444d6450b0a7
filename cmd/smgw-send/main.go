// smgw-send signs a message with a shared secret and sends it to an smgw
// listener as a single UDP datagram.
//
// The secret is read from SMGW_SECRET so it does not show up in the
// process list:
//
//	SMGW_SECRET=abc123 smgw-send -H 10.0.0.5 -p 45678 "disk /var is 93% full"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dantte-lp/smgw/internal/gateway"
	"github.com/dantte-lp/smgw/internal/netio"
	appversion "github.com/dantte-lp/smgw/internal/version"
)

// sendTimeout bounds how long a single send may block.
const sendTimeout = 5 * time.Second

// secretEnv names the environment variable carrying the shared secret.
const secretEnv = "SMGW_SECRET"

var (
	errNoSecret  = errors.New(secretEnv + " is not set")
	errNoMessage = errors.New("message is required")
)

type options struct {
	host    string
	port    int
	message string
	secret  string
}

func main() {
	os.Exit(run())
}

func parseFlags(args []string) (options, bool, error) {
	fs := flag.NewFlagSet("smgw-send", flag.ContinueOnError)
	host := fs.String("H", "127.0.0.1", "gateway host")
	fs.StringVar(host, "host", "127.0.0.1", "gateway host")
	port := fs.Int("p", 45678, "gateway UDP port")
	fs.IntVar(port, "port", 45678, "gateway UDP port")
	showVersion := fs.Bool("version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, false, fmt.Errorf("parse flags: %w", err)
	}
	if *showVersion {
		return options{}, true, nil
	}

	return options{
		host:    *host,
		port:    *port,
		message: strings.Join(fs.Args(), " "),
		secret:  os.Getenv(secretEnv),
	}, false, nil
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts, showVersion, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", slog.String("error", err.Error()))
		return 2
	}
	if showVersion {
		fmt.Println(appversion.Full("smgw-send"))
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := send(ctx, opts); err != nil {
		logger.Error("send failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// send signs opts.message and transmits it to opts.host:opts.port.
func send(ctx context.Context, opts options) error {
	if opts.secret == "" {
		return errNoSecret
	}
	if opts.message == "" {
		return errNoMessage
	}

	payload, err := gateway.EncodeEnvelope(gateway.Sign(opts.message, []byte(opts.secret)))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
	if err := netio.SendDatagram(ctx, addr, payload); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}
