// keeperctl mutates the shared node registry from outside the supervisor
// process: it verifies, writes and reconciles against the same storage the
// daemon reads, then wakes the live supervisor through the pid cell. This
// is the cross-process mutation path; the daemon converges on its next
// poll tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/cfg"
	"github.com/pgkeeper/pgkeeper/engine"
	"github.com/pgkeeper/pgkeeper/heartbeat"
	"github.com/pgkeeper/pgkeeper/notify"
	"github.com/pgkeeper/pgkeeper/registry"
)

const usage = `usage: keeperctl [flags] <command> [args]

commands:
  list                      show registered nodes
  add <name> <conninfo>     register a node (must be reachable)
  remove <name>             delete a node by name
  remove-seqno <seqno>      delete a node by sequence number
  check <conninfo>          probe an address, no side effects
  signal <name>             deliver a named signal to the supervisor
`

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		fail("failed to load configuration: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err := run(args[0], args[1:]); err != nil {
		fail("%v", err)
	}
}

func run(command string, args []string) error {
	ctx := context.Background()
	conf := cfg.Snapshot()
	cell := notify.NewCell(conf.DataDir)
	prober := heartbeat.NewClient()

	switch command {
	case "check":
		if len(args) != 1 {
			return fmt.Errorf("check expects one conninfo argument")
		}
		if !prober.Probe(ctx, args[0]) {
			return fmt.Errorf("node at %q is not reachable", args[0])
		}
		fmt.Println("reachable")
		return nil

	case "signal":
		if len(args) != 1 {
			return fmt.Errorf("signal expects one signal name")
		}
		pid, err := cell.Read()
		if err != nil {
			return err
		}
		if err := notify.SendNamed(pid, args[0]); err != nil {
			return err
		}
		fmt.Printf("delivered %s to pid %d\n", args[0], pid)
		return nil
	}

	store, err := registry.Open(filepath.Join(conf.DataDir, "registry.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	if command == "list" {
		nodes, err := store.ListNodes(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("%-6s %-20s %-8s %-6s %s\n", "SEQNO", "NAME", "MASTER", "SYNC", "CONNINFO")
		for _, n := range nodes {
			fmt.Printf("%-6d %-20s %-8t %-6t %s\n", n.Seqno, n.Name, n.IsMaster, n.IsSync, n.Conninfo)
		}
		return nil
	}

	// Mutations need the live sync membership from the local engine.
	eng, err := engine.Connect(ctx, conf.LocalConninfo)
	if err != nil {
		return err
	}
	defer eng.Close()

	manager := registry.NewManager(store, prober, eng, cell)

	switch command {
	case "add":
		if len(args) != 2 {
			return fmt.Errorf("add expects <name> <conninfo>")
		}
		node, err := manager.AddNode(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("added %s (seqno %d, master=%t, sync=%t)\n",
			node.Name, node.Seqno, node.IsMaster, node.IsSync)
		return nil

	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("remove expects <name>")
		}
		ok, err := manager.RemoveNode(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no node named %q", args[0])
		}
		fmt.Printf("removed %s\n", args[0])
		return nil

	case "remove-seqno":
		if len(args) != 1 {
			return fmt.Errorf("remove-seqno expects <seqno>")
		}
		seqno, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seqno %q", args[0])
		}
		ok, err := manager.RemoveNodeBySeqno(ctx, seqno)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no node with seqno %d", seqno)
		}
		fmt.Printf("removed seqno %d\n", seqno)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keeperctl: "+format+"\n", args...)
	os.Exit(1)
}
