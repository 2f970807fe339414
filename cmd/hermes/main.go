// Package main is the HERMES host daemon: it consumes a
// cmn.Config produced by an external CLI/config-file collaborator and
// assembles the Broker, its locally-owned Nodes, and every supporting
// subsystem the Broker itself only takes by injection (see broker.New's
// doc comment). Follows a conventional daemon entrypoint shape: flag
// parsing, a signal handler that maps an operator Ctrl-C onto the
// graceful DRAIN path, and an os.Exit keyed off the returned process
// exit code.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hermes-sensorfusion/hermes/broker"
	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn"
	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/hk"
	"github.com/hermes-sensorfusion/hermes/keyboard"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/stats"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/hermes-sensorfusion/hermes/transport"
)

const svcName = "hermes"

var (
	build string
	buildtime string
	configPath string
)

func init() {
	flag.StringVar(&configPath, "config", "", svcName+" YAML configuration file")
}

func printVer() {
	fmt.Printf("%s %s (built %s)\n", svcName, build, buildtime)
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	if len(os.Args) == 1 || (len(os.Args) == 2 && strings.Contains(os.Args[1], "help")) {
		printVer()
		flag.PrintDefaults()
		os.Exit(0)
	}
	flag.Parse()
	if configPath == "" {
		nlog.Errorf("%s: -config is required", svcName)
		os.Exit(int(broker.ExitConfigError))
	}

	cfg, err := cmn.LoadConfig(configPath)
	if err != nil {
		nlog.Errorf("%s: %v", svcName, err)
		os.Exit(int(broker.ExitConfigError))
	}
	cmn.GCO.Put(cfg)

	code := run(cfg)
	os.Exit(int(code))
}

// run assembles every subsystem the Broker takes by injection, runs it
// to completion, and tears the assembled pieces down. Errors assembling
// storage or a Node topology are configuration errors; everything past that is the Broker FSM's own business.
func run(cfg *cmn.Config) broker.ExitCode {
	desc := meta.BrokerDescriptor{
		BrokerID: cfg.BrokerID,
		ControlEndpoint: cfg.ControlEndpoint,
		DataEndpoint: cfg.DataEndpoint,
		PeerBrokers: cfg.Peers,
		IsClockRef: cfg.ClockEligible,
	}

	clk := clock.New()
	proxy := transport.NewProxy()
	hkRunner := hk.New()
	statsTracker := stats.New(cfg.BrokerID)
	if cfg.Stats.PrometheusAddr != "" {
		go statsTracker.Serve(cfg.Stats.PrometheusAddr)
	}
	proxy.Bus.SetGapObserver(statsTracker.AddSeqGap)

	sessionID := uuid.NewString()
	streams := collectStreams(cfg)
	sess := meta.Session{
		SessionID: sessionID,
		HostID: cfg.BrokerID,
		BrokerID: cfg.BrokerID,
		ConfigDigest: cfg.Digest(),
		Streams: streams,
	}

	containerPath := cfg.Storage.RootDir + "/" + sessionID + ".container"
	md := storage.NewContainerMetadataFromSession(sess, streams)
	container, err := storage.NewContainer(containerPath, md)
	if err != nil {
		nlog.Errorf("%s: opening storage container: %v", svcName, err)
		return broker.ExitConfigError
	}

	// brk is assigned right after construction; the overflow handler
	// closes over the not-yet-assigned pointer, exactly as
	// broker/lifecycle.go's SignalOverflow doc comment anticipates.
	var brk *broker.Broker
	flushHz := cfg.Storage.FlushHz
	if flushHz <= 0 {
		flushHz = 20
	}
	baseInterval := time.Duration(float64(time.Second) / flushHz)
	fastInterval := baseInterval / 4

	eng := storage.NewEngine(container, hkRunner, baseInterval, fastInterval, cfg.Storage.HighWater,
		func(streamID string, overflowErr *cos.ErrOverflow) {
			if brk != nil {
				brk.SignalOverflow(streamID, overflowErr)
			}
		})
	eng.SetStats(statsTracker)

	keyboardHub := keyboard.NewHub(os.Stdin)

	brk = broker.New(cfg, desc, clk, proxy, eng, keyboardHub, hkRunner, statsTracker)

	delayEstimators := core.NewDelayEstimators()
	wireDelayEstimators(cfg, delayEstimators)

	teardown, err := wireNodes(cfg, brk, proxy, eng, clk, delayEstimators)
	if err != nil {
		nlog.Errorf("%s: wiring nodes: %v", svcName, err)
		return broker.ExitConfigError
	}
	defer teardown()

	go keyboardHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("%s: operator interrupt, requesting drain", svcName)
		brk.AbortRun()
	}()

	return brk.Run(ctx)
}
