package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/organism/internal/codec"
	"github.com/danielpatrickdp/organism/internal/orchestrator"
	"github.com/danielpatrickdp/organism/internal/signals"
)

// #region inject

func newInjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject <type> [intensity]",
		Short: "Push an event into a running organism",
		Long: `Push one event into the organism's queue over the control surface.

Known types: noise, decay, recovery, shock, idle. Unknown types are accepted
and interpreted as meaningless. Intensity is clamped to [-1, 1].`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			intensity := 0.0
			if len(args) == 2 {
				v, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid intensity %q: %w", args[1], err)
				}
				intensity = v
			}
			pairs, _ := cmd.Flags().GetStringSlice("meta")
			meta, err := parseMeta(pairs)
			if err != nil {
				return err
			}

			client, err := codec.NewClient(a.cfg.RPC.Addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := rpcContext(cmd)
			defer cancel()
			res, err := client.Inject(ctx, signals.EventType(args[0]), intensity, meta)
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd, map[string]any{"id": res.ID, "accepted": res.Accepted})
			}
			if !res.Accepted {
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s (queue full)\n", res.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s %.3f\n", res.ID, args[0], intensity)
			return nil
		},
	}
	cmd.Flags().StringSlice("meta", nil, "Metadata as key=value (repeatable)")
	cmd.Flags().Duration("timeout", 5*time.Second, "RPC timeout")
	return cmd
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

// #endregion inject

// #region status

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest observation of a running organism",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := codec.NewClient(a.cfg.RPC.Addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := rpcContext(cmd)
			defer cancel()
			obs, err := client.Observe(ctx)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd, obs)
			}
			printObservation(cmd, obs)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "RPC timeout")
	return cmd
}

func printObservation(cmd *cobra.Command, obs orchestrator.Observation) {
	out := cmd.OutOrStdout()
	v := obs.Vitals
	fmt.Fprintf(out, "life      %s (born %s)\n", obs.Life.ID, obs.Life.BornAt.Format(time.RFC3339))
	fmt.Fprintf(out, "tick      %d  age %.1fs  mode %s  health %.3f\n", v.Ticks, v.Age, obs.Mode, obs.Health)
	fmt.Fprintf(out, "energy    %8.3f   integrity %.3f   stability %.3f\n", v.Energy, v.Integrity, v.Stability)
	fmt.Fprintf(out, "fatigue   %8.3f   tension   %.3f   active    %t\n", v.Fatigue, v.Tension, v.Active)
	fmt.Fprintf(out, "memory    %d entries   pending %d (max waited %d)\n", len(obs.Memory), obs.Pending, obs.MaxTicksWaited)
	fmt.Fprintf(out, "queue     %d/%d   accepted %d   dropped %d\n",
		obs.Queue.Len, obs.Queue.Capacity, obs.Queue.Accepted, obs.Queue.Dropped)
	fs := obs.FeedbackStats
	fmt.Fprintf(out, "feedback  registered %d   matured %d   discarded %d   timed out %d\n",
		fs.Registered, fs.Matured, fs.Discarded, fs.TimedOut)
	if len(obs.Events) > 0 {
		names := make([]string, len(obs.Events))
		for i, e := range obs.Events {
			names[i] = string(e)
		}
		fmt.Fprintf(out, "last tick %s\n", strings.Join(names, ", "))
	}
	if !obs.Eval.Passed {
		fmt.Fprintf(out, "invariant %s\n", obs.Eval.Reason)
	}
}

func rpcContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

// #endregion status
