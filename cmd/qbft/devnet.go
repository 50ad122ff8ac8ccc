package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sig-0/go-qbft"
	"github.com/sig-0/go-qbft/admin"
	"github.com/sig-0/go-qbft/chain"
	"github.com/sig-0/go-qbft/config"
	"github.com/sig-0/go-qbft/engine"
	"github.com/sig-0/go-qbft/keys"
	"github.com/sig-0/go-qbft/message"
	"github.com/sig-0/go-qbft/message/transport"
	"github.com/sig-0/go-qbft/metrics"
	"github.com/sig-0/go-qbft/validator"
)

func newDevnetCmd() *cobra.Command {
	var heights uint64

	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run a network of validators over an in-process bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDevnet(ctx, cfg, heights)
		},
	}

	cmd.Flags().Uint64Var(&heights, "heights", 0, "stop after finalizing this many heights (0 runs until interrupted)")

	return cmd
}

type node struct {
	key    *keys.Key
	chain  *chain.Memory
	ctx    *qbft.Context
	engine *engine.Engine
}

func runDevnet(ctx context.Context, cfg config.Config, heights uint64) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}

	set, ks, err := cfg.ValidatorSet()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := transport.NewBus()

	nodes := make([]*node, 0, len(ks))
	for _, k := range ks {
		n, err := newNode(log, cfg, k, set, bus, reg)
		if err != nil {
			return err
		}

		nodes = append(nodes, n)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *admin.HTTPServer

	if cfg.AdminAddr != "" {
		var lc net.ListenConfig

		ln, err := lc.Listen(ctx, "tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}

		log.Info("Admin server listening", "addr", ln.Addr().String())

		srv = admin.NewHTTPServer(ctx, log.With("svc", "admin"), admin.HTTPServerConfig{
			Listener: ln,
			API:      admin.NewAPI(log, nodes[0].ctx, cfg.VotesEnabled),
			Gatherer: reg,
		})
	}

	finalized := make(chan *message.FinalizedBlock, 16)
	sub := nodes[0].engine.SubscribeFinalized(finalized)

	var wg sync.WaitGroup

	for _, n := range nodes {
		wg.Add(1)

		go func(n *node) {
			defer wg.Done()

			if err := n.engine.Run(ctx); err != nil {
				log.Error("Engine failed", "node", n.key.Address(), "err", err)
				cancel()
			}
		}(n)
	}

	log.Info("Devnet started", "validators", set.Len(), "quorum", set.Quorum())

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case fb := <-finalized:
			if heights > 0 && fb.Height >= heights {
				log.Info("Requested heights finalized", "heights", heights)
				cancel()

				break loop
			}
		}
	}

	sub.Unsubscribe()
	cancel()
	wg.Wait()

	if srv != nil {
		srv.Wait()
	}

	return nil
}

func newNode(
	log *slog.Logger,
	cfg config.Config,
	key *keys.Key,
	set *validator.Set,
	bus *transport.Bus,
	reg prometheus.Registerer,
) (*node, error) {
	log = log.With("node", key.Address())

	mem := chain.NewMemory()
	mem.Author = key.Address()

	qctx, err := qbft.NewContext(log, mem, qbft.Snapshot{Height: mem.Head().Header.Height + 1, Validators: set})
	if err != nil {
		return nil, err
	}

	mem.Votes = qctx

	m, err := metrics.NewPrometheus(
		prometheus.WrapRegistererWith(prometheus.Labels{"node": key.Address().Hex()}, reg),
		cfg.MetricsNamespace,
	)
	if err != nil {
		return nil, err
	}

	n := &node{
		key:   key,
		chain: mem,
		ctx:   qctx,
	}

	tr := bus.Join(key.Address(), func(data []byte) {
		if err := n.engine.AddRawMessage(data); err != nil {
			log.Debug("Message dropped", "err", err)
		}
	})

	n.engine, err = engine.New(engine.Config{
		Context:          qctx,
		Signer:           key,
		Verifier:         keys.ECRecover{},
		Transport:        tr,
		Metrics:          m,
		Logger:           log,
		Round0Duration:   cfg.Round0Duration,
		MaxRoundDuration: cfg.MaxRoundDuration,
		LagTolerance:     cfg.LagTolerance,
		QueueSize:        cfg.QueueSize,
		BufferCapacity:   cfg.BufferCapacity,
	})
	if err != nil {
		return nil, err
	}

	return n, nil
}
