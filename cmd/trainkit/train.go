package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/dataset"
	"github.com/born-ml/trainkit/internal/metrics"
	"github.com/born-ml/trainkit/internal/model"
	"github.com/born-ml/trainkit/internal/server"
	"github.com/born-ml/trainkit/internal/store"
	"github.com/born-ml/trainkit/internal/train"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train CONFIG",
		Short: "Train the declared network",
		Long: `Train the network declared in CONFIG.

Flags override the config file; environment variables override both the
file and the built-in defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: trainHandler,
	}

	cmd.Flags().String("listen", "", "Serve the control surface on this address")
	cmd.Flags().Bool("paused", false, "Compile but wait for a resume before training")
	cmd.Flags().Bool("display", false, "Print progress after every batch")
	cmd.Flags().String("db", "", "Record metrics to this SQLite file")
	cmd.Flags().Int("epochs", 0, "Override training.epochs")
	cmd.Flags().Int("batch-size", 0, "Override training.batchSize")
	cmd.Flags().Int("samples", 0, "Override training.samples")
	return cmd
}

func overridesFromFlags(cmd *cobra.Command) config.Overrides {
	flags := cmd.Flags()
	var o config.Overrides
	o.Listen, _ = flags.GetString("listen")
	o.DB, _ = flags.GetString("db")
	o.Epochs, _ = flags.GetInt("epochs")
	o.BatchSize, _ = flags.GetInt("batch-size")
	o.Samples, _ = flags.GetInt("samples")
	if flags.Changed("paused") {
		v, _ := flags.GetBool("paused")
		o.Paused = &v
	}
	if flags.Changed("display") {
		v, _ := flags.GetBool("display")
		o.Display = &v
	}
	return o
}

func trainHandler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(overridesFromFlags(cmd))
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runTrain(ctx, cfg, newLogger(), cmd.OutOrStdout())
}

// runTrain compiles the declared network, trains it and, when configured,
// serves the control surface and records metrics until training ends or ctx
// is cancelled.
func runTrain(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	mc, err := cfg.ModelConfig()
	if err != nil {
		return err
	}
	enc, err := dataset.ParseTargets(cfg.Data.Targets)
	if err != nil {
		return err
	}
	trainSet, validationSet, err := loadData(cfg.Data)
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	held := 0
	if validationSet != nil {
		held = validationSet.Len()
	}
	logger.Info("data loaded", "source", cfg.Data.Source, "train", trainSet.Len(), "validation", held)

	runID := uuid.NewString()
	storeOpts := []metrics.Option{metrics.WithLogger(logger)}
	var db *store.DB
	if cfg.Store.Path != "" {
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		storeOpts = append(storeOpts, metrics.WithSink(db.Recorder(runID)))
	}
	history := metrics.NewStore(storeOpts...)

	samples := cfg.Training.Samples
	if samples == 0 {
		samples = trainSet.Len()
	}
	var trainer *train.Trainer
	tcfg := train.Config{
		Epochs:    cfg.Training.Epochs,
		BatchSize: cfg.Training.BatchSize,
		Samples:   samples,
		TrainData: trainSet.Factory(enc),
		Display:   cfg.Training.Display,
		OnTrainEnd: func(train.Model) {
			logger.Info("training finished", "run", runID)
		},
		Frame: func() { progressFrame(out, trainer) },
	}
	if validationSet != nil {
		tcfg.ValidationData = validationSet.Factory(enc)
	}

	trainer = train.NewTrainer(tcfg, !cfg.Training.Paused,
		train.WithStore(history),
		train.WithLogger(logger),
		train.WithRunID(runID))

	builder := model.NewBuilder(
		model.WithLogger(logger),
		model.WithOnCompile(func(m *model.Model) { trainer.OnCompile(m) }))
	m, err := builder.Build(mc)
	if err != nil {
		return err
	}
	logger.Info("model ready", "layers", m.Len(), "params", m.NumParams())

	if cfg.Training.Paused && cfg.Server.Listen == "" {
		logger.Warn("training starts paused and no control surface is configured; nothing will resume it")
	}

	var ln net.Listener
	if cfg.Server.Listen != "" {
		ln, err = net.Listen("tcp", cfg.Server.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return trainer.Run(gctx)
	})
	if ln != nil {
		srvOpts := []server.Option{server.WithLogger(logger)}
		if db != nil {
			srvOpts = append(srvOpts, server.WithDB(db))
		}
		srv := server.New(trainer, srvOpts...)
		g.Go(func() error {
			return srv.Serve(serveCtx, ln)
		})
	}

	err = g.Wait()
	if cfg.Training.Display {
		fmt.Fprintln(out)
	}
	history.WriteSummary(out)
	if errors.Is(err, context.Canceled) {
		logger.Info("training interrupted", "run", runID)
		return nil
	}
	return err
}

// progressFrame renders one status line, overwritten on every batch.
func progressFrame(w io.Writer, t *train.Trainer) {
	st := t.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "\repoch %d/%d batch %d/%d", st.Epoch+1, st.Epochs, st.Batch, st.Batches)
	for _, name := range st.Metrics {
		if strings.HasPrefix(name, train.ValidationPrefix) {
			continue
		}
		if v, ok := t.Store().Last(name); ok {
			fmt.Fprintf(&b, "  %s=%.4f", name, v)
		}
	}
	fmt.Fprint(w, b.String())
}
