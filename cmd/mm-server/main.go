// Command mm-server listens for client connections and serves allocation
// requests against a single shared local manager (spec.md §4.9, component
// C9).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	rt "github.com/orizon-lang/managed-memory/internal/runtime"
	"github.com/orizon-lang/managed-memory/internal/runtime/debugsink"
	"github.com/orizon-lang/managed-memory/internal/runtime/mmconfig"
	"github.com/orizon-lang/managed-memory/internal/runtime/server"
)

func main() {
	var (
		listen   string
		psk      string
		pageSize int
	)

	flag.StringVar(&listen, "listen", "", "endpoint to listen on, host:port (overrides MM_SERVER)")
	flag.StringVar(&psk, "psk", "", "pre-shared authentication key (overrides MM_PSK)")
	flag.IntVar(&pageSize, "page-size", mmconfig.DefaultPageSize, "byte size of one allocation page")
	flag.Parse()

	if listen == "" {
		listen = os.Getenv(mmconfig.EnvServer)
	}

	if psk == "" {
		psk = os.Getenv(mmconfig.EnvPSK)
	}

	if listen == "" {
		fatal("malformed endpoint: no -listen flag and %s is not set", mmconfig.EnvServer)
	}

	if _, _, err := mmconfig.ParseEndpoint(listen); err != nil {
		fatal("%v", err)
	}

	if psk == "" {
		fatal("no -psk flag and %s is not set", mmconfig.EnvPSK)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fatal("listen on %s: %v", listen, err)
	}

	mgr := rt.NewLocalManager()
	defer mgr.Close()

	if tuningPath := os.Getenv(mmconfig.EnvTuningFile); tuningPath != "" {
		watcher, err := mmconfig.WatchTuning(tuningPath)
		if err != nil {
			fatal("watch tuning file %s: %v", tuningPath, err)
		}
		defer watcher.Close()

		go func() {
			for t := range watcher.Updates() {
				if t.ReaperPeriod > 0 {
					mgr.SetReaperPeriod(t.ReaperPeriod)
				}

				// t.WritebackTimeout has no consumer in this process: the
				// writeback-timeout tunable belongs to a RemoteManager's
				// trap region (client side), and mm-server only ever owns
				// a LocalManager. A client binary wiring WatchTuning would
				// forward it via RemoteManager.SetWritebackTimeout instead.
			}
		}()
	}

	if target := os.Getenv(mmconfig.EnvDebugTarget); target != "" {
		sink := debugsink.Dial(target)
		defer sink.Close()

		rt.SetDebugSink(func(id rt.ObjectID, header *rt.AllocationHeader) {
			sink.Emit(debugsink.Snapshot{
				ID:        uint64(id),
				TypeToken: uint64(header.TypeToken()),
				TypeName:  rt.TypeNameOf(header.TypeToken()),
				Count:     header.Count(),
				Represent: header.Represent(),
			})
		})
	}

	reactor := server.NewReactor(ln, mgr, psk, pageSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- reactor.Serve() }()

	select {
	case err := <-serveErr:
		fatal("serve: %v", err)
	case <-sig:
		_ = reactor.Close()
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mm-server: "+format+"\n", args...)
	os.Exit(1)
}
