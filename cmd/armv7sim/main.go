package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lookbusy1344/armv7sim/config"
	"github.com/lookbusy1344/armv7sim/debugger"
	"github.com/lookbusy1344/armv7sim/dyldcache"
	"github.com/lookbusy1344/armv7sim/internal/tracelog"
	"github.com/lookbusy1344/armv7sim/macho"
	"github.com/lookbusy1344/armv7sim/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configPath  = flag.String("config", "", "Path to config file (default: "+config.GetConfigPath()+")")
		chroot      = flag.String("chroot", "", "Dylib search prefix (overrides config file)")
		cachePath   = flag.String("cache", "", "Path to a dyld_shared_cache_armv7 file (overrides config file)")
		maxSteps    = flag.Uint64("max-steps", 0, "Step budget (overrides config file; 0 = use config default)")
		interactive = flag.Bool("interactive", false, "Start the TUI debugger instead of running to completion")
		debugMode   = flag.Bool("debug", false, "Start the line-based CLI debugger instead of running to completion")
		enableTrace = flag.Bool("trace", false, "Enable instruction trace (overrides config file)")
		enableMem   = flag.Bool("mem-trace", false, "Enable memory access trace (overrides config file)")
		verboseMode = flag.Bool("verbose", false, "Verbose output")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("armv7sim %s (%s)\n", Version, Commit)
		os.Exit(0)
	}
	if *showHelp || flag.NArg() == 0 {
		printHelp()
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	binPath := flag.Arg(0)

	cfg := config.DefaultConfig()
	path := *configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	if loaded, err := config.LoadFrom(path); err == nil {
		cfg = loaded
	} else if *configPath != "" {
		tracelog.Fatal(1, "loading config %s: %v", *configPath, err)
	}

	if *chroot != "" {
		cfg.Execution.ChrootPrefix = *chroot
	}
	if *cachePath != "" {
		cfg.Execution.CachePath = *cachePath
	}
	if *maxSteps != 0 {
		cfg.Execution.StepBudget = *maxSteps
	}
	if *enableTrace {
		cfg.Trace.Instructions = true
	}
	if *enableMem {
		cfg.Trace.Memory = true
	}
	if *verboseMode {
		cfg.Display.Verbose = true
	}

	var trace *tracelog.Logger
	if cfg.Trace.Instructions || cfg.Trace.Memory {
		f, err := os.Create(cfg.Trace.OutputFile) // #nosec G304 -- user-specified trace output path
		if err != nil {
			tracelog.Fatal(1, "creating trace file %s: %v", cfg.Trace.OutputFile, err)
		}
		defer f.Close()
		trace = tracelog.New(f, cfg.Trace.Instructions, cfg.Trace.Memory)
	} else {
		trace = tracelog.Discard()
	}

	machine := vm.NewMachine()
	if err := machine.CP15.Configure(cfg.CP15.Registers); err != nil {
		tracelog.Fatal(1, "%v", err)
	}
	machine.StepBudget = cfg.Execution.StepBudget

	var cache *dyldcache.Cache
	if cfg.Execution.CachePath != "" {
		var err error
		cache, err = dyldcache.Load(cfg.Execution.CachePath)
		if err != nil {
			tracelog.Fatal(1, "%v", err)
		}
	}

	loader := macho.NewLoader(machine, cfg.Execution.ChrootPrefix, cache)

	if cfg.Display.Verbose {
		fmt.Printf("Loading %s\n", binPath)
	}
	report, err := loader.Load(binPath)
	if err != nil {
		tracelog.Fatal(1, "%v", err)
	}
	if err := machine.Symbols.Dump(); err != nil {
		tracelog.Fatal(1, "%v", err)
	}

	entry := report.EntryPoint
	if entry != 0 {
		machine.CPU.LoadPC(entry)
	}
	if cfg.Display.Verbose {
		fmt.Printf("Entry point: 0x%08x\n", machine.CPU.PC())
		if report.UUID != "" {
			fmt.Printf("UUID: %s\n", report.UUID)
		}
	}

	if *interactive || *debugMode {
		dbg := debugger.NewDebugger(machine, loader)
		if *interactive {
			if err := debugger.RunTUI(dbg); err != nil {
				tracelog.Fatal(1, "tui: %v", err)
			}
		} else {
			fmt.Println("armv7sim debugger - type 'help' for commands")
			if err := debugger.RunCLI(dbg); err != nil {
				tracelog.Fatal(1, "debugger: %v", err)
			}
		}
		os.Exit(int(machine.ExitCode))
	}

	for machine.Steps < machine.StepBudget {
		if machine.ExitRequested {
			break
		}
		pc := machine.CPU.PC()
		trace.Instruction(pc, "")
		done, err := machine.Step()
		if err != nil {
			fmt.Fprintf(os.Stderr, "runtime error at 0x%08x: %v\n", pc, err)
			os.Exit(2)
		}
		if done {
			break
		}
	}

	if cfg.Display.Verbose {
		fmt.Printf("Steps executed: %d\n", machine.Steps)
		fmt.Printf("Exit code: %d\n", machine.ExitCode)
	}

	os.Exit(int(machine.ExitCode))
}

func printHelp() {
	fmt.Printf(`armv7sim %s - a user-space ARMv7-A Mach-O interpreter

Usage: armv7sim [options] <mach-o-path>

Options:
  -help              Show this help message
  -version           Show version information
  -config FILE       Path to config file (default: %s)
  -chroot DIR        Dylib search prefix (overrides config file)
  -cache FILE        Path to a dyld_shared_cache_armv7 file
  -max-steps N       Step budget (0 = use config default)
  -trace             Enable instruction trace
  -mem-trace         Enable memory access trace
  -interactive       Start the TUI debugger
  -debug             Start the line-based CLI debugger
  -verbose           Verbose output

Examples:
  armv7sim ./a.out
  armv7sim -chroot ./armv7_5 -cache ./armv7_5/dyld_shared_cache_armv7 ./a.out
  armv7sim -interactive ./a.out
`, Version, config.GetConfigPath())
}
