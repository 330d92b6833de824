// Command daqbuffer runs one node of the retrieval cluster, or performs
// one-shot catalog/administrative operations against it.
//
// Grounded on the teacher's cmd/cctool/main.go subcommand dispatch (a
// flag.FlagSet per subcommand, a common context cancelled on SIGINT/
// SIGTERM, exit code 1 for a context error and 2 for a subcommand error)
// and on cmd/libindexhttp/main.go's server-process shape (parse config,
// build the storage layer, serve until the process is killed).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

type subcmd func(context.Context, []string) error

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet("daqbuffer", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s <subcommand> [args]\n\nSubcommands:\n", os.Args[0])
		fmt.Fprintln(out, "  node      run a cluster node (serves HTTP and peer fan-out)")
		fmt.Fprintln(out, "  proxy     run a stateless cross-backend aggregator (HTTP only, no shard)")
		fmt.Fprintln(out, "  import    load channel configuration into the catalog from a JSON file")
		fmt.Fprintln(out, "  version   print the build version")
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "node":
		cmd = runNode
	case "proxy":
		cmd = runProxy
	case "import":
		cmd = runImport
	case "version":
		cmd = runVersion
	case "":
		fs.Usage()
		os.Exit(99)
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		os.Exit(99)
	}

	var cmdErr error
	cmdctx, cmddone := context.WithCancel(ctx)
	go func() {
		defer cmddone()
		cmdErr = cmd(cmdctx, fs.Args()[1:])
	}()

	select {
	case <-ctx.Done():
		log.Print(ctx.Err())
		exit = 1
	case <-cmdctx.Done():
		if cmdErr != nil {
			log.Print(cmdErr)
			exit = 2
		}
	}
}
