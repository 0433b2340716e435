// Command chronicals-host is the minimal runtime entry point: it wires
// environment configuration into a host.Session and runs it until
// interrupted. Route definitions are this module's explicit external
// collaborator (see route.DirectoryLoader/InlineRegistrar) — this binary
// loads them from CHRONICALS_ROUTES_DIR via route.DefaultDirectoryLoader,
// which is a no-op until a deployment supplies its own DirectoryLoader
// implementation and reassigns route.DefaultDirectoryLoader at program
// startup (an import-time init() in that deployment's own main package is
// the usual way to do this without forking this file).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronicals/sdk/host"
	"github.com/chronicals/sdk/route"
	"github.com/chronicals/sdk/transport"
)

func optionsFromEnv() host.Options {
	return host.Options{
		APIKey:   os.Getenv("CHRONICALS_API_KEY"),
		Endpoint: os.Getenv("CHRONICALS_ENDPOINT"),
		LogLevel: envOr("CHRONICALS_LOG_LEVEL", "prod"),
		SDKName:  envOr("CHRONICALS_SDK_NAME", "chronicals-host-go"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadTree() (*route.Tree, error) {
	dir := os.Getenv("CHRONICALS_ROUTES_DIR")
	return route.DefaultDirectoryLoader.Load(dir)
}

func dialerFor(opts host.Options) transport.Dialer {
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("x-api-key", opts.APIKey)
	}
	return transport.WebSocketDialer{Opts: transport.WebSocketOptions{
		Endpoint:       opts.Endpoint,
		Header:         header,
		ConnectTimeout: opts.ConnectTimeout,
		SendTimeout:    opts.SendTimeout,
		PingTimeout:    opts.PingTimeout,
	}}
}

func run() error {
	opts := optionsFromEnv()
	if opts.Endpoint == "" {
		return fmt.Errorf("CHRONICALS_ENDPOINT is required")
	}

	tree, err := loadTree()
	if err != nil {
		return err
	}

	sess := host.New(dialerFor(opts), tree, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	<-ctx.Done()
	log.Print("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sess.SafelyClose(shutdownCtx); err != nil {
		return err
	}
	return <-runErr
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("chronicals-host: %v", err)
	}
}
