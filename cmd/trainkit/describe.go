package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/model"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe CONFIG",
		Short: "Compile the declared network and print its layers",
		Args:  cobra.ExactArgs(1),
		RunE:  describeHandler,
	}
}

func describeHandler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	mc, err := cfg.ModelConfig()
	if err != nil {
		return err
	}

	m, err := model.NewBuilder(model.WithLogger(newLogger())).Build(mc)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	m.Summary(w)
	c := m.Config().Compile
	fmt.Fprintf(w, "\noptimizer: %s  loss: %s  metrics: %v\n", c.Optimizer.Name, c.Loss, m.MetricsNames())
	return nil
}
