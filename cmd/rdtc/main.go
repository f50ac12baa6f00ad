// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// rdtc requests and uploads files from an rdtd over the reliable data transfer protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rdtfs/rdtfs-go/pkg/discovery"
	"github.com/rdtfs/rdtfs-go/pkg/history"
	"github.com/rdtfs/rdtfs-go/pkg/rdt"
)

// printUsage of rdtc to stderr.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s [options] get|post|watch|discover:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s get path [-|filename]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Requests the file or directory listing at path and writes it to stdout (-)\n")
	_, _ = fmt.Fprintf(os.Stderr, "  or the given file.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s post path -|filename\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Uploads stdin (-) or the given file to path.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s watch directory [prefix]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Uploads each file created or written in directory below prefix until interrupted.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s discover [duration]\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Lists the file servers announced on the local network.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

var (
	// errUsage results in the usage message.
	errUsage = errors.New("invalid usage")

	// errNotOK reports a Response whose status is not OK. The status was already printed.
	errNotOK = errors.New("request was not successful")
)

// requester performs GET and POST requests, implemented by rdt.Client.
type requester interface {
	poster
	Get(ctx context.Context, path string) (rdt.Response, error)
}

// exitCode reports an error and maps it to rdtc's exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0

	case errors.Is(err, errUsage):
		printUsage()
		return 1

	case errors.Is(err, errNotOK):
		return 2

	default:
		log.WithError(err).Error("rdtc errored")
		return 1
	}
}

// interruptContext is canceled on SIGINT.
func interruptContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		log.Info("Received interrupt signal")
		cancel()
	}()

	return ctx
}

func main() {
	os.Exit(run())
}

// run rdtc and return its exit status. Deferred cleanups, like closing the Client, happen before exiting.
func run() int {
	var (
		configFile = flag.String("config", "", "TOML configuration file")
		server     = flag.String("server", "", "server address, host:port")
		relay      = flag.String("relay", "", "relay address, host:port")
		local      = flag.String("local", "", "local address to bind to")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		return exitCode(errUsage)
	}

	conf, err := readConfig(*configFile)
	if err != nil {
		return exitCode(fmt.Errorf("failed to read config: %w", err))
	}

	// Flags override the configuration file.
	if *server != "" {
		conf.Client.Server = *server
	}
	if *relay != "" {
		conf.Client.Relay = *relay
	}
	if *local != "" {
		conf.Client.Local = *local
	}
	if *verbose {
		conf.Logging.Level = "debug"
	}

	// rdtc logs to stderr, its output goes to stdout.
	conf.Logging.Apply(log.WarnLevel)

	args := flag.Args()
	if args[0] == "discover" {
		return exitCode(discoverServers(args[1:]))
	}

	clientConf, localAddr, err := conf.clientConfig()
	if err != nil {
		return exitCode(fmt.Errorf("invalid client configuration: %w", err))
	}

	ctx := interruptContext()

	client, err := rdt.Dial(ctx, localAddr, clientConf)
	if err != nil {
		return exitCode(fmt.Errorf("creating client errored: %w", err))
	}
	defer client.Close()

	switch args[0] {
	case "get":
		err = getFile(ctx, client, args[1:])

	case "post":
		err = postFile(ctx, client, args[1:])

	case "watch":
		err = startWatch(ctx, client, args[1:])

	default:
		err = errUsage
	}

	return exitCode(err)
}

// logResponse writes a Response's status to stderr.
func logResponse(req rdt.Request, resp rdt.Response, started time.Time) {
	log.WithFields(log.Fields{
		"request":  req,
		"status":   resp.Status,
		"size":     len(resp.Body),
		"checksum": fmt.Sprintf("%04x", history.Checksum(resp.Body)),
		"duration": time.Since(started),
	}).Info("Received response")
}

// getFile for the "get" CLI option.
func getFile(ctx context.Context, client requester, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}

	started := time.Now()
	resp, err := client.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("GET request errored: %w", err)
	}
	logResponse(rdt.NewGetRequest(args[0]), resp, started)

	if !resp.OK() {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, resp.Body)
		return errNotOK
	}

	if len(args) == 1 || args[1] == "-" {
		if _, err := os.Stdout.Write(resp.Body); err != nil {
			return fmt.Errorf("writing to stdout errored: %w", err)
		}
	} else if err := os.WriteFile(args[1], resp.Body, 0644); err != nil {
		return fmt.Errorf("writing file errored: %w", err)
	}
	return nil
}

// postFile for the "post" CLI option.
func postFile(ctx context.Context, client requester, args []string) error {
	if len(args) != 2 {
		return errUsage
	}

	var (
		data []byte
		err  error
	)
	if args[1] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[1])
	}
	if err != nil {
		return fmt.Errorf("reading input errored: %w", err)
	}

	started := time.Now()
	resp, err := client.Post(ctx, args[0], data)
	if err != nil {
		return fmt.Errorf("POST request errored: %w", err)
	}
	logResponse(rdt.NewPostRequest(args[0], data), resp, started)

	_, _ = fmt.Fprintf(os.Stdout, "%s: %s\n", resp.Status, resp.Body)
	if !resp.OK() {
		return errNotOK
	}
	return nil
}

// discoverServers for the "discover" CLI option.
func discoverServers(args []string) error {
	duration := 3 * time.Second
	if len(args) > 1 {
		return errUsage
	} else if len(args) == 1 {
		if d, err := time.ParseDuration(args[0]); err == nil {
			duration = d
		} else if secs, err := strconv.Atoi(args[0]); err == nil {
			duration = time.Duration(secs) * time.Second
		} else {
			return errUsage
		}
	}

	servers, err := discovery.Discover(duration)
	if err != nil {
		return fmt.Errorf("discovery errored: %w", err)
	}

	for _, server := range servers {
		_, _ = fmt.Fprintf(os.Stdout, "%s\t%v\n", server.Name, server.Address)
	}
	return nil
}
