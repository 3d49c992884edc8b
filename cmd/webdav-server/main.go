// Command webdav-server exposes a local directory tree as a WebDAV
// (RFC 4918 class-1/2) resource collection over HTTP/1.1.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hi-Dka/webdav-server/internal/auth"
	"github.com/Hi-Dka/webdav-server/internal/fsbackend"
	"github.com/Hi-Dka/webdav-server/internal/logging"
	"github.com/Hi-Dka/webdav-server/internal/server"
	"github.com/Hi-Dka/webdav-server/internal/webdavsrv"
)

func main() {
	fs := flag.NewFlagSet("webdav-server", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	host := fs.String("host", "0.0.0.0", "listen host")
	port := fs.Int("port", 8080, "listen port")
	root := fs.String("root", "./webdav_root", "root directory to serve")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "webdav-server: unknown argument %q\n", fs.Arg(0))
		usage(fs)
		os.Exit(1)
	}

	logger, err := logging.New("logs/webdav.log", logging.INFO)
	if err != nil {
		// The source's Logger constructor throws when it cannot open its
		// log file, caught by main's top-level try/catch, which reports
		// the error and exits 1 rather than starting with no log sink.
		fmt.Fprintf(os.Stderr, "webdav-server: %v\n", err)
		os.Exit(1)
	}

	backend, err := fsbackend.New(*root, logger)
	if err != nil {
		logger.Fatalf("webdav-server: initializing backend: %v", err)
	}

	handler := &webdavsrv.Server{
		Backend: backend,
		Auth:    auth.NewStore(),
		Log:     logger,
	}

	srv := &server.Server{
		Addr:    fmt.Sprintf("%s:%d", *host, *port),
		Handler: handler,
		Log:     logger,
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	exitCode := make(chan int, 1)
	go func() {
		s := <-sig
		logger.Infof("received signal %v, shutting down", s)
		srv.Shutdown()
		if unixSig, ok := s.(syscall.Signal); ok {
			exitCode <- int(unixSig)
			return
		}
		exitCode <- 0
	}()

	logger.Infof("WebDAV server starting on %s, root %s", srv.Addr, backend.Root)
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatalf("webdav-server: %v", err)
	}

	// ListenAndServe only returns nil after Shutdown, which only the
	// signal goroutine calls, so an exit code is always on its way.
	os.Exit(<-exitCode)
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: webdav-server [--host HOST] [--port PORT] [--root PATH]\n\n")
	fs.PrintDefaults()
}
