package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	zus "github.com/wubo009/zufs-zus"
	"github.com/wubo009/zufs-zus/backend/pmemsim"
	"github.com/wubo009/zufs-zus/internal/logging"
	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/sdnotify"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

func main() {
	var (
		rootPath = flag.String("root", "", "Override the relay control device root path (default: "+zus.DefaultRootPath+" or $"+zus.RootPathEnv+")")
		fsName   = flag.String("fs", "pmemsim", "Name to register the sample filesystem back-end under")
		verbose  = flag.Bool("v", false, "Verbose output")
		simulate = flag.Bool("simulate", false, "Run against an in-process fake relay instead of the real kernel shim")
		simChans = flag.Int("simulate-channels", 1, "Number of channels to bring up when -simulate is set")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := pmemsim.New(*fsName)

	options := &zus.Options{Context: ctx, Logger: logger, RootPath: *rootPath}
	if *simulate {
		fake := relay.NewFake()
		fake.SetTopology(1, 1, [][]uint64{{0x1}})
		options.Relay = fake
		logger.Info("running against the in-process fake relay", "fs", *fsName, "channels", *simChans)

		go func() {
			fake.SubmitMountEvent(relay.MountEvent{MountEventWire: uapi.MountEventWire{
				Event:       uapi.EventMount,
				NumChannels: uint32(*simChans),
				FSName:      *fsName,
				MountPath:   "/mnt/" + *fsName,
			}})
		}()
	}

	rt, err := zus.New(options, fs)
	if err != nil {
		logger.Error("failed to construct runtime", "error", err)
		os.Exit(1)
	}

	logger.Info("starting zufs-zus core", "fs", *fsName, "root_path", *rootPath)

	serveErrC := make(chan error, 1)
	go func() { serveErrC <- rt.Serve() }()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			dumpStacks(logger)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		if err := sdnotify.Stopping(); err != nil {
			logger.Debugf("sdnotify stopping: %v", err)
		}
		rt.Stop()
	case err := <-serveErrC:
		if err != nil {
			logger.Error("runtime exited unexpectedly", "error", err)
			os.Exit(1)
		}
		return
	}

	select {
	case err := <-serveErrC:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
			os.Exit(1)
		}
	case <-time.After(2 * time.Second):
		logger.Info("shutdown timeout, forcing exit")
	}
}

func dumpStacks(logger *logging.Logger) {
	logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

	filename := fmt.Sprintf("zusd-stacks-%d.txt", os.Getpid())
	f, err := os.Create(filename)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "Goroutine stack dump, pid %d\n\n", os.Getpid())
	f.Write(buf[:n])
	fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
	pprof.Lookup("goroutine").WriteTo(f, 2)
	logger.Info("stack trace written to file", "file", filename)
}
