package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/organism/internal/codec"
	"github.com/danielpatrickdp/organism/internal/config"
	"github.com/danielpatrickdp/organism/internal/feedback"
	"github.com/danielpatrickdp/organism/internal/logging"
	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
	"github.com/danielpatrickdp/organism/internal/state"
	"github.com/danielpatrickdp/organism/internal/telemetry"
)

// #region run-cmd

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the organism until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume, _ := cmd.Flags().GetBool("resume"); resume {
				a.cfg.Life.Resume = true
			}
			if id, _ := cmd.Flags().GetString("life"); id != "" {
				a.cfg.Life.ID = id
			}
			if seed, _ := cmd.Flags().GetUint64("seed"); seed != 0 {
				a.cfg.Life.Seed = seed
			}
			if noProducer, _ := cmd.Flags().GetBool("no-producer"); noProducer {
				a.cfg.Producer.Enabled = false
			}
			return runDaemon(cmd.Context(), a.cfg, a.logger)
		},
	}
	cmd.Flags().Bool("resume", false, "Resume the latest snapshot of --life (or the most recent life)")
	cmd.Flags().String("life", "", "Life id to create or resume")
	cmd.Flags().Uint64("seed", 0, "Seed for feedback delays and the event producer (0 = random)")
	cmd.Flags().Bool("no-producer", false, "Disable the built-in random event producer")
	return cmd
}

// #endregion run-cmd

// #region daemon

func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := state.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	life, snap, err := resolveLife(store, cfg.Life, time.Now())
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("life_id", life.ID))

	writer := logging.NewTickWriter(store.DB(), logger, cfg.Storage.TickLogBatch, cfg.Storage.TickLogFlush)
	snaps := newSnapshotter(store, logger, cfg.Storage.SnapshotEvery)
	if snap != nil {
		snaps.parent = snap.SnapshotID
	}

	queue := signals.NewQueue(cfg.Queue.Capacity)
	orch := orchestrator.New(life, queue, append(orchestratorOptions(cfg, logger),
		orchestrator.WithObserver(tickLogObserver(writer, logger)),
		orchestrator.WithObserver(snaps.observe),
	)...)
	if snap != nil {
		if err := orch.Restore(*snap); err != nil {
			return err
		}
	}

	var lis net.Listener
	if cfg.RPC.Addr != "" {
		lis, err = net.Listen("tcp", cfg.RPC.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.RPC.Addr, err)
		}
	}

	// the writer outlives ctx; it stops only when drained below
	writer.Start(ctx)

	logger.Info("organism starting",
		zap.String("version", version),
		zap.String("db", cfg.Storage.DBPath),
		zap.String("rpc", cfg.RPC.Addr),
		zap.Bool("resumed", snap != nil),
		zap.Uint64("ticks", orch.Latest().Tick()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return snaps.run(gctx) })

	if cfg.Producer.Enabled {
		pcfg := signals.DefaultProducerConfig()
		pcfg.Interval = cfg.Producer.Interval
		producer := signals.NewProducer(queue, pcfg, producerRand(cfg.Life.Seed), logger)
		g.Go(func() error { return producer.Run(gctx) })
	}

	if lis != nil {
		gs, hs := codec.NewGRPCServer(codec.NewServer(queue, orch, logger))
		g.Go(func() error {
			if err := gs.Serve(lis); err != nil {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			gs.GracefulStop()
			return nil
		})
		logger.Info("control surface listening", zap.String("addr", lis.Addr().String()))
	}

	runErr := g.Wait()

	// Final snapshot regardless of how the loop ended. No tick can run past
	// this point, so draining the writer persists every published row.
	if _, err := snaps.save(orch.Latest()); err != nil {
		logger.Error("final snapshot failed", zap.Error(err))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	writer.Drain(drainCtx)
	cancel()
	if runErr != nil {
		return fmt.Errorf("organism halted: %w", runErr)
	}
	logger.Info("organism stopped", zap.Uint64("ticks", orch.Latest().Tick()))
	return nil
}

// resolveLife picks the identity to tick for and, when resuming, the
// snapshot to restore.
func resolveLife(store *state.Store, cfg config.LifeConfig, now time.Time) (state.Life, *state.Snapshot, error) {
	if cfg.Resume {
		var life state.Life
		var err error
		if cfg.ID != "" {
			life, err = store.GetLife(cfg.ID)
		} else {
			life, err = store.LatestLife()
		}
		if err != nil {
			return state.Life{}, nil, fmt.Errorf("resume: %w", err)
		}
		snap, err := store.Latest(life.ID)
		if errors.Is(err, state.ErrNoSnapshot) {
			return life, nil, nil
		}
		if err != nil {
			return state.Life{}, nil, fmt.Errorf("resume: %w", err)
		}
		return life, &snap, nil
	}

	if cfg.ID == "" {
		life, err := store.CreateLife(now)
		if err != nil {
			return state.Life{}, nil, fmt.Errorf("create life: %w", err)
		}
		return life, nil, nil
	}
	if err := store.RegisterLife(state.Life{ID: cfg.ID, BornAt: now.UTC()}); err != nil {
		return state.Life{}, nil, fmt.Errorf("register life: %w", err)
	}
	life, err := store.GetLife(cfg.ID)
	if err != nil {
		return state.Life{}, nil, err
	}
	return life, nil, nil
}

func orchestratorOptions(cfg *config.Config, logger *zap.Logger) []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.Config{
			TickInterval:    cfg.Tick.Interval,
			ActivationLimit: cfg.Memory.ActivationLimit,
			StepPenalty:     cfg.Tick.StepPenalty,
		}),
		orchestrator.WithLogger(logger),
		orchestrator.WithRand(feedback.NewRand(cfg.Life.Seed)),
		orchestrator.WithMemoryCapacity(cfg.Memory.Capacity),
		orchestrator.WithFeedbackConfig(feedbackConfig(cfg.Feedback)),
	}
}

func feedbackConfig(c config.FeedbackConfig) feedback.Config {
	return feedback.Config{
		MinDelay: c.MinDelay,
		MaxDelay: c.MaxDelay,
		Timeout:  c.Timeout,
		Epsilon:  c.Epsilon,
	}
}

// producerRand keeps the event stream independent of the delay draws.
func producerRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, 1))
}

// #endregion daemon

// #region observers

func tickLogObserver(w *logging.TickWriter, logger *zap.Logger) orchestrator.Observer {
	return func(obs orchestrator.Observation) {
		row, err := orchestrator.TickRowOf(obs)
		if err != nil {
			logger.Error("encode tick row", zap.Uint64("tick", obs.Tick()), zap.Error(err))
			return
		}
		if !w.Append(row) {
			logger.Warn("tick row dropped", zap.Uint64("tick", obs.Tick()))
		}
	}
}

// snapshotter saves every Nth observation off the tick goroutine.
type snapshotter struct {
	store  *state.Store
	logger *zap.Logger
	every  uint64
	due    chan orchestrator.Observation
	parent string
}

func newSnapshotter(store *state.Store, logger *zap.Logger, every int) *snapshotter {
	return &snapshotter{
		store:  store,
		logger: logger.Named("snapshot"),
		every:  uint64(max(every, 0)),
		due:    make(chan orchestrator.Observation, 1),
	}
}

// observe never blocks; a snapshot still pending is replaced by the newer one.
func (s *snapshotter) observe(obs orchestrator.Observation) {
	if s.every == 0 || obs.Tick() == 0 || obs.Tick()%s.every != 0 {
		return
	}
	select {
	case s.due <- obs:
	default:
		select {
		case <-s.due:
		default:
		}
		select {
		case s.due <- obs:
		default:
		}
	}
}

func (s *snapshotter) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case obs := <-s.due:
			if _, err := s.save(obs); err != nil {
				s.logger.Error("snapshot failed", zap.Uint64("tick", obs.Tick()), zap.Error(err))
			}
		}
	}
}

// save is only called from run and after run has returned.
func (s *snapshotter) save(obs orchestrator.Observation) (string, error) {
	snap, err := orchestrator.SnapshotOf(obs)
	if err != nil {
		return "", err
	}
	snap.ParentID = s.parent
	id, err := s.store.SaveSnapshot(snap)
	if err != nil {
		return "", err
	}
	s.parent = id
	s.logger.Info("snapshot saved",
		zap.String("snapshot_id", id),
		zap.Uint64("tick", obs.Tick()),
		zap.Int("memory", len(obs.Memory)),
	)
	return id, nil
}

// #endregion observers
