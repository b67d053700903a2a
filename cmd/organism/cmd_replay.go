package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/organism/internal/config"
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/replay"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region replay

func newReplayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <fixture.json>",
		Short: "Replay a fixture deterministically and check its expectations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := replay.LoadFixture(args[0])
			if err != nil {
				return err
			}
			results, err := replay.RunFixture(cmd.Context(), f, a.logger)
			if err != nil {
				return err
			}
			tol, _ := cmd.Flags().GetFloat64("tolerance")
			mismatches := replay.Check(results, f.Expected, tol)
			summary := replay.Summarize(results)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				msgs := make([]string, len(mismatches))
				for i, m := range mismatches {
					msgs[i] = m.String()
				}
				if err := printJSON(cmd, map[string]any{
					"summary":    summary,
					"mismatches": msgs,
				}); err != nil {
					return err
				}
			} else {
				if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
					if err := printReplayTable(cmd, results); err != nil {
						return err
					}
				}
				printSummary(cmd, f.Description, summary)
				for _, m := range mismatches {
					fmt.Fprintf(cmd.OutOrStdout(), "MISMATCH %s\n", m)
				}
			}

			if len(mismatches) > 0 {
				return fmt.Errorf("%d expectation(s) not met", len(mismatches))
			}
			return nil
		},
	}
	cmd.Flags().Float64("tolerance", replay.DefaultTolerance, "Absolute tolerance on expected vitals")
	cmd.Flags().BoolP("verbose", "v", false, "Print every replayed tick")
	return cmd
}

func printReplayTable(cmd *cobra.Command, results []replay.ReplayResult) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tMODE\tENERGY\tINTEGRITY\tSTABILITY\tEVENTS\tACTIONS\tFEEDBACK\tEVAL")
	for _, r := range results {
		obs := r.Observation
		v := obs.Vitals
		eval := "ok"
		if !r.Eval.Passed {
			eval = r.Eval.Reason
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%.3f\t%.3f\t%d\t%d\t%d\t%s\n",
			r.Tick, obs.Mode, v.Energy, v.Integrity, v.Stability,
			len(obs.Events), len(obs.Actions), len(obs.Feedback), eval)
	}
	return w.Flush()
}

func printSummary(cmd *cobra.Command, description string, s replay.ReplaySummary) {
	out := cmd.OutOrStdout()
	if description != "" {
		fmt.Fprintf(out, "%s\n", description)
	}
	fmt.Fprintf(out, "ticks %d  events %d  feedback %d  degraded %d  step failures %d  eval failures %d\n",
		s.TotalTicks, s.EventsProcessed, s.FeedbackRecords, s.DegradedTicks, s.StepFailures, s.EvalFailures)

	patterns := make([]meaning.Pattern, 0, len(s.Actions))
	for p := range s.Actions {
		patterns = append(patterns, p)
	}
	slices.Sort(patterns)
	for _, p := range patterns {
		fmt.Fprintf(out, "  %-8s %d\n", p, s.Actions[p])
	}
	v := s.FinalVitals
	fmt.Fprintf(out, "final energy %.3f integrity %.3f stability %.3f fatigue %.3f tension %.3f\n",
		v.Energy, v.Integrity, v.Stability, v.Fatigue, v.Tension)
}

// #endregion replay

// #region export-fixture

func newExportFixtureCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-fixture",
		Short: "Build a replay fixture from the tick log",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			last, _ := cmd.Flags().GetInt("last")
			description, _ := cmd.Flags().GetString("description")
			seed, _ := cmd.Flags().GetUint64("seed")
			if seed == 0 {
				seed = a.cfg.Life.Seed
			}

			store, err := state.NewStore(a.cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			life, err := lookupLife(a, cmd, store)
			if err != nil {
				return err
			}

			rows, err := store.ListTicks(life.ID, last)
			if err != nil {
				return err
			}
			if description == "" {
				description = fmt.Sprintf("exported from life %s, %d ticks", life.ID, len(rows))
			}
			f, err := replay.FixtureFromTicks(rows, replay.ExportOptions{
				Description: description,
				Seed:        seed,
				Config:      replayConfig(a.cfg),
			})
			if err != nil {
				return err
			}
			if err := f.Save(out); err != nil {
				return err
			}
			exact := "approximate (no expectations)"
			if len(f.Expected) > 0 {
				exact = fmt.Sprintf("exact, %d expectations", len(f.Expected))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d ticks, %s\n", out, len(f.Ticks), exact)
			return nil
		},
	}
	cmd.Flags().String("life", "", "Life id (defaults to the most recently snapshotted life)")
	cmd.Flags().Int("last", 100, "Number of most recent ticks to export")
	cmd.Flags().String("out", "", "Output fixture path")
	cmd.Flags().String("description", "", "Fixture description")
	cmd.Flags().Uint64("seed", 0, "Seed the life ran with (defaults to config)")
	return cmd
}

func replayConfig(cfg *config.Config) replay.ReplayConfig {
	rc := replay.DefaultReplayConfig()
	rc.Orchestrator = orchestrator.Config{
		TickInterval:    cfg.Tick.Interval,
		ActivationLimit: cfg.Memory.ActivationLimit,
		StepPenalty:     cfg.Tick.StepPenalty,
	}
	rc.MemoryCapacity = cfg.Memory.Capacity
	rc.Feedback = feedbackConfig(cfg.Feedback)
	return rc
}

// #endregion export-fixture
