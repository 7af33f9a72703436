// Ember CLI - loads chunk files and runs them on the VM
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/vm"
	"github.com/chazu/ember/wire"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ember")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disasm := flag.Bool("disasm", false, "Disassemble the chunk instead of running it")
	trace := flag.Bool("trace", false, "Log each instruction before it executes")
	dump := flag.Bool("dump", false, "Dump stack and frames on a fault")
	noManifest := flag.Bool("no-manifest", false, "Skip loading ember.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [options] [chunk.emberc]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a compiled chunk file on the Ember VM.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ember app.emberc            # run a chunk\n")
		fmt.Fprintf(os.Stderr, "  ember -disasm app.emberc    # show its bytecode\n")
		fmt.Fprintf(os.Stderr, "  ember -trace app.emberc     # log every instruction\n")
		fmt.Fprintf(os.Stderr, "  ember                       # run the ember.toml entry chunk\n")
	}
	flag.Parse()

	// Manifest settings fill in whatever the flags leave unset.
	var m *manifest.Manifest
	if !*noManifest {
		var err error
		m, err = manifest.FindAndLoad(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
			os.Exit(1)
		}
	}
	if m != nil {
		if m.Runtime.Trace {
			*trace = true
		}
		if m.Runtime.Verbose {
			*verbose = true
		}
	}

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	if *trace {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	path := flag.Arg(0)
	if path == "" && m != nil {
		path = m.EntryPath()
	}
	if path == "" {
		flag.Usage()
		os.Exit(1)
	}

	chunk, err := loadChunk(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Infof("loaded %s (%d constants, %d globals)",
		path, len(chunk.Constants), chunk.GlobalsCount)

	if *disasm {
		printDisassembly(chunk)
		return
	}

	opts := []vm.Option{vm.WithOutput(os.Stdout)}
	if m != nil && m.Runtime.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(m.Runtime.MaxFrames))
	}
	if *trace {
		opts = append(opts, vm.WithTrace(traceWriter{}))
	}

	machine, err := vm.New(chunk, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer machine.Close()

	result, err := machine.Interpret()
	if err != nil {
		log.Errorf("fault: %v", err)
		if *dump {
			machine.DumpStack(os.Stderr)
			machine.DumpFrames(os.Stderr)
		}
	}
	if result != vm.Success {
		os.Exit(1)
	}
}

// loadChunk reads and decodes a chunk container file.
func loadChunk(path string) (*vm.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wc, err := wire.UnmarshalChunk(data)
	if err != nil {
		return nil, err
	}
	return wc.Runtime()
}

// printDisassembly lists the top-level code followed by every function
// constant.
func printDisassembly(chunk *vm.Chunk) {
	fmt.Println("== main ==")
	fmt.Println(vm.Disassemble(chunk.Function.Code, chunk.Constants))
	for i, c := range chunk.Constants {
		if !c.IsFunction() {
			continue
		}
		fn := c.Function()
		fmt.Printf("== fn constant %d (params=%d upvalues=%d) ==\n",
			i, fn.NumParams, fn.NumUpvalues)
		fmt.Println(vm.Disassemble(fn.Code, chunk.Constants))
	}
}

// traceWriter forwards the VM's per-instruction trace to the logger.
type traceWriter struct{}

func (traceWriter) Write(p []byte) (int, error) {
	log.Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
