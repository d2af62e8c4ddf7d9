package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/longrelay/internal/chunk"
	"github.com/stupiduntilnot/longrelay/internal/db"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Generate one long reply and print it as it would be chunked",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// ask never talks to Telegram.
	cfg.Commander = "dummy"
	if err := prepareConfig(ctx, &cfg); err != nil {
		return err
	}
	provider, err := newModelProvider(cfg)
	if err != nil {
		return err
	}
	generator, err := newGenerator(cfg, provider, logger, db.Nop{})
	if err != nil {
		return err
	}
	unit, err := chunk.ParseUnit(cfg.ChunkUnit)
	if err != nil {
		return err
	}

	reply, err := generator.Generate(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	parts := []string{reply}
	if unit.Len(reply) > cfg.MaxMessageLen {
		parts = unit.Split(reply, cfg.MaxMessageLen)
	}
	out := cmd.OutOrStdout()
	for i, part := range parts {
		if len(parts) > 1 {
			fmt.Fprintf(out, "--- message %d/%d (%d %s) ---\n", i+1, len(parts), unit.Len(part), unit)
		}
		fmt.Fprintln(out, part)
	}
	return nil
}
