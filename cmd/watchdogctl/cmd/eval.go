package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watchdogd/watchdogd/internal/clock"
	"github.com/watchdogd/watchdogd/internal/condition"
	"github.com/watchdogd/watchdogd/internal/config"
	"github.com/watchdogd/watchdogd/internal/lifetime"
	"github.com/watchdogd/watchdogd/internal/pattern"
	"github.com/watchdogd/watchdogd/internal/procsrc"
)

// evalCmd loads one profile from a config file and reports its phase and
// every schedule's condition match against a single live process-table
// snapshot, without running any exec/exec_end actions.
var evalCmd = &cobra.Command{
	Use:   "eval <config-path> <profile-name>",
	Short: "Evaluate a profile's conditions against the live process table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, profileName := args[0], args[1]

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		jobs, err := config.BuildJobs(cfg)
		if err != nil {
			return fmt.Errorf("build profiles: %w", err)
		}

		var pat pattern.Pattern
		var schedules []condition.Condition
		found := false
		for _, job := range jobs {
			if job.Name != profileName {
				continue
			}
			found = true
			pat = job.Pattern
			for _, s := range job.Schedules {
				schedules = append(schedules, s.Condition)
			}
			break
		}
		if !found {
			return fmt.Errorf("no profile named %q in %s", profileName, configPath)
		}

		source := procsrc.NewGopsutilSource()
		procs, err := source.Refresh(context.Background())
		if err != nil {
			return fmt.Errorf("refresh process table: %w", err)
		}

		matching := 0
		for _, p := range procs {
			if p.Status.Excluded() {
				continue
			}
			if pattern.Matches(p, pat) {
				matching++
			}
		}

		tracker := lifetime.New()
		tracker.Ingest(matching, clock.Real{}.Now())
		snap := tracker.Snapshot()
		now := clock.Real{}.Now()

		fmt.Printf("profile:         %s\n", profileName)
		fmt.Printf("matching procs:  %d\n", matching)
		fmt.Printf("phase:           %s\n", snap.Phase)
		fmt.Printf("exiting:         %t\n", snap.Exiting)
		for i, c := range schedules {
			full := condition.Matches(now, snap, c)
			partial := condition.PartialMatch(snap, c)
			fmt.Printf("commands[%d]:     %s  matches=%t  partial_match=%t\n", i, c, full, partial)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
}
