// Command mediator runs a single configured mining proxy instance: it reads
// one Settings document, brings up the upstream multiplexer and frontend
// listeners, and streams worker telemetry to a local supervisor. This is the
// client-mode half of original_source's tokio_run — the supervisor-side
// dashboard/auth half (actix-web, JWT) is out of scope per spec.md's
// Non-goals. CLI flag parsing follows the teacher's convention of a small,
// typed flags struct, via jessevdk/go-flags (SPEC_FULL.md §10).
package main

import (
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/etpool/mining-proxy/internal/config"
	"github.com/etpool/mining-proxy/internal/listener"
	"github.com/etpool/mining-proxy/internal/logging"
	"github.com/etpool/mining-proxy/internal/telemetry"
	"github.com/etpool/mining-proxy/internal/upstream"
)

type cliOptions struct {
	ConfigPath     string `short:"c" long:"config" description:"path to the listener's YAML settings" required:"true"`
	TelemetryAddr  string `long:"telemetry-addr" description:"supervisor egress socket" default:"127.0.0.1:65500"`
}

// Exit codes per spec.md §6.
const (
	exitOK          = 0
	exitConfigError = 1
	exitRuntimeErr  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var opts cliOptions
	if _, err := flags.Parse(&opts); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return exitConfigError
	}

	log, err := logging.New(cfg.Name, cfg.LogPath, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return exitConfigError
	}

	mux := upstream.NewMultiplexer(log, time.Duration(cfg.DialTimeoutSecs)*time.Second)
	dialTO := time.Duration(cfg.DialTimeoutSecs) * time.Second

	if len(cfg.PoolAddress) == 0 {
		log.Error("main", "pool_address must name at least one upstream")
		return exitConfigError
	}

	// The real connection is only shared (multiplexer-managed) in
	// unified_wallet mode, where every miner is credited to the same
	// operator-chosen wallet anyway. In pure_proxy/skim mode each Session
	// dials and logs in its own dedicated real connection (internal/session,
	// handleLogin) with the miner's own wallet, since a shared connection
	// can only carry one wallet's login at a time (spec.md §4.3 step 2).
	if cfg.Share == config.UnifiedWallet {
		unifiedWallet := cfg.UnifiedWallet
		afterDial := func(c *upstream.Conn) error {
			return c.Login(unifiedWallet, "x", dialTO)
		}
		if err := mux.AddUpstream(upstream.RoleReal, cfg.PoolAddress[0], cfg.PoolSSL, afterDial); err != nil {
			log.Errorf("main", "real upstream: %v", err)
			return exitRuntimeErr
		}
	}
	if cfg.Share == config.Skim {
		if len(cfg.ShareAlgPoolAddress) == 0 {
			log.Error("main", "share_alg_pool_address must name at least one dev upstream when share_mode=skim")
			return exitConfigError
		}
		shareWallet := cfg.ShareWallet
		afterDial := func(c *upstream.Conn) error {
			return c.Login(shareWallet, "x", dialTO)
		}
		if err := mux.AddUpstream(upstream.RoleDev, cfg.ShareAlgPoolAddress[0], cfg.PoolSSL, afterDial); err != nil {
			log.Errorf("main", "dev upstream: %v", err)
			return exitRuntimeErr
		}
	}
	mux.StartSweep()
	defer mux.StopSweep()
	defer mux.Close()

	lst := listener.New(cfg, log, mux)
	if err := lst.Start(); err != nil {
		log.Errorf("main", "listener start: %v", err)
		return exitRuntimeErr
	}
	defer lst.Stop()

	sender := telemetry.NewSender(opts.TelemetryAddr, log)
	go sender.Run()
	defer sender.Stop()
	go reportWorkers(lst, sender, cfg.Name)

	log.Infof("main", "%s running", cfg.Name)
	select {}
}

// reportWorkers periodically snapshots every active worker and enqueues one
// telemetry.Record per worker, the Go-side analogue of original_source's
// per-connection send_to_parent loop collapsed into a single ticker.
func reportWorkers(lst *listener.Listener, sender *telemetry.Sender, name string) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, snap := range lst.ActiveWorkers() {
			sender.Enqueue(telemetry.Record{Name: name, Worker: snap})
		}
	}
}
