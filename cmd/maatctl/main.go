package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lilith645/Maat-Network/internal/client"
	logs "github.com/lilith645/Maat-Network/internal/logging"
	"github.com/lilith645/Maat-Network/internal/protocol"
	flag "github.com/spf13/pflag"
)

func main() {
	logs.ConfigureRuntime()

	addr := flag.StringP("addr", "a", "127.0.0.1:6767", "relay address (host:port or ws:// url)")
	name := flag.StringP("session", "s", "", "session to join or create")
	encName := flag.String("encoding", "tlv", "payload encoding: tlv|cbor")
	raw := flag.Bool("raw", false, "send stdin lines as raw_data instead of data")
	end := flag.Bool("end", false, "end the session for everyone when stdin closes")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "maatctl: --session is required")
		os.Exit(2)
	}
	enc, err := protocol.ParseEncoding(*encName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maatctl: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := client.DefaultConfig()
	cfg.Addr = *addr
	cfg.Encoding = enc
	if err := run(ctx, cfg, *name, *raw, *end, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "maatctl: %v\n", err)
		os.Exit(1)
	}
}

// run joins name, forwards every input line and prints every relayed message
// until the relay ends the session or input closes.
func run(ctx context.Context, cfg client.Config, name string, raw, end bool, in io.Reader, out io.Writer) error {
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Join(ctx, name); err != nil {
		return err
	}
	logs.Infof("maatctl joined session=%q relay=%q", name, c.RemoteAddr())

	recvDone := make(chan error, 1)
	go func() { recvDone <- printLoop(ctx, c, out) }()

	lines := make(chan []byte)
	inputErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		inputErr <- sc.Err()
	}()

	for {
		select {
		case err := <-recvDone:
			return err
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return finish(ctx, c, end, inputErr, recvDone)
			}
			if raw {
				err = c.SendRaw(line)
			} else {
				err = c.SendData(string(line))
			}
			if err != nil {
				return err
			}
		}
	}
}

// finish leaves the session once input is exhausted and waits for the relay
// to close the connection.
func finish(ctx context.Context, c *client.Client, end bool, inputErr, recvDone <-chan error) error {
	select {
	case err := <-inputErr:
		if err != nil {
			return err
		}
	default:
	}
	var err error
	if end {
		err = c.EndSession()
	} else {
		err = c.Send(protocol.Shutdown())
	}
	if err != nil {
		return err
	}
	select {
	case err := <-recvDone:
		return err
	case <-ctx.Done():
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("relay did not close the connection")
	}
}

func printLoop(ctx context.Context, c *client.Client, out io.Writer) error {
	for {
		m, err := c.Next(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		switch m.Kind {
		case protocol.KindData:
			fmt.Fprintln(out, m.Text)
		case protocol.KindRawData:
			fmt.Fprintf(out, "%x\n", m.Raw)
		case protocol.KindPeerJoined:
			fmt.Fprintln(out, "* peer joined")
		case protocol.KindShutdown:
			fmt.Fprintln(out, "* session closed")
			return nil
		case protocol.KindSuccess, protocol.KindNull:
		default:
			fmt.Fprintf(out, "* %s\n", m)
		}
	}
}
