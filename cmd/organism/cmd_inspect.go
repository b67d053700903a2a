package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region inspect

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read persisted snapshots and the tick log",
	}
	cmd.PersistentFlags().String("life", "", "Life id (defaults to the most recently snapshotted life)")
	cmd.PersistentFlags().Int("last", 20, "Number of most recent rows")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "snapshots",
			Short: "List snapshots, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLife(a, cmd, runInspectSnapshots)
			},
		},
		&cobra.Command{
			Use:   "ticks",
			Short: "List tick log rows in chronological order",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLife(a, cmd, runInspectTicks)
			},
		},
		&cobra.Command{
			Use:   "memory",
			Short: "Show the memory trace of the latest snapshot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLife(a, cmd, runInspectMemory)
			},
		},
	)
	return cmd
}

// withLife opens the store, resolves --life and hands both to fn.
func withLife(a *app, cmd *cobra.Command, fn func(*cobra.Command, *state.Store, state.Life, int) error) error {
	store, err := state.NewStore(a.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	life, err := lookupLife(a, cmd, store)
	if err != nil {
		return err
	}
	last, _ := cmd.Flags().GetInt("last")
	return fn(cmd, store, life, last)
}

// lookupLife resolves --life, then the configured id, then the most
// recently snapshotted life.
func lookupLife(a *app, cmd *cobra.Command, store *state.Store) (state.Life, error) {
	id, _ := cmd.Flags().GetString("life")
	if id == "" {
		id = a.cfg.Life.ID
	}
	if id != "" {
		return store.GetLife(id)
	}
	return store.LatestLife()
}

type snapshotRow struct {
	SnapshotID string       `json:"snapshot_id"`
	ParentID   string       `json:"parent_id,omitempty"`
	Vitals     state.Vitals `json:"vitals"`
	MemoryLen  int          `json:"memory_len"`
	CreatedAt  string       `json:"created_at"`
}

func runInspectSnapshots(cmd *cobra.Command, store *state.Store, life state.Life, last int) error {
	snaps, err := store.ListSnapshots(life.ID, last)
	if err != nil {
		return err
	}
	rows := make([]snapshotRow, len(snaps))
	for i, s := range snaps {
		entries, _ := decodeMemory(s.MemoryJSON)
		rows[i] = snapshotRow{
			SnapshotID: s.SnapshotID,
			ParentID:   s.ParentID,
			Vitals:     s.Vitals,
			MemoryLen:  len(entries),
			CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		}
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(cmd, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no snapshots found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SNAPSHOT\tTICK\tENERGY\tINTEGRITY\tSTABILITY\tTENSION\tACTIVE\tMEMORY\tCREATED")
	for _, r := range rows {
		v := r.Vitals
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\t%t\t%d\t%s\n",
			shortID(r.SnapshotID), v.Ticks, v.Energy, v.Integrity, v.Stability, v.Tension, v.Active, r.MemoryLen, r.CreatedAt)
	}
	return w.Flush()
}

func runInspectTicks(cmd *cobra.Command, store *state.Store, life state.Life, last int) error {
	rows, err := store.ListTicks(life.ID, last)
	if err != nil {
		return err
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(cmd, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no ticks logged")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICK\tAGE\tMODE\tENERGY\tINTEGRITY\tSTABILITY\tFATIGUE\tTENSION\tEVENTS")
	for _, r := range rows {
		v := r.Vitals
		fmt.Fprintf(w, "%d\t%.1f\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%s\n",
			r.Tick, r.Age, r.Mode, v.Energy, v.Integrity, v.Stability, v.Fatigue, v.Tension, r.EventsJSON)
	}
	return w.Flush()
}

func runInspectMemory(cmd *cobra.Command, store *state.Store, life state.Life, last int) error {
	snap, err := store.Latest(life.ID)
	if err != nil {
		return err
	}
	entries, err := decodeMemory(snap.MemoryJSON)
	if err != nil {
		return err
	}
	if last > 0 && len(entries) > last {
		entries = entries[len(entries)-last:]
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(cmd, entries)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSIGNIFICANCE\tPATTERN\tDETAIL")
	for _, e := range entries {
		detail := ""
		if e.Feedback != nil {
			detail = fmt.Sprintf("delay=%d delta=%v", e.Feedback.DelayTicks, e.Feedback.StateDelta)
		} else if e.ActionID != "" {
			detail = shortID(e.ActionID)
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.EventType, e.Significance, e.Pattern, detail)
	}
	return w.Flush()
}

func decodeMemory(raw string) ([]memory.Entry, error) {
	var entries []memory.Entry
	if raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return entries, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion inspect
