package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watchdogd/watchdogd/internal/pattern"
	"github.com/watchdogd/watchdogd/internal/procsrc"
)

var (
	psRegex    bool
	psLocation string
)

// psCmd prints a one-shot listing of the live processes that currently
// match a pattern, using the same matcher the daemon uses.
var psCmd = &cobra.Command{
	Use:   "ps <pattern>",
	Short: "List live processes matching a pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := parseLocation(psLocation)
		if err != nil {
			return err
		}

		pat, err := buildPattern(loc, args[0], psRegex)
		if err != nil {
			return err
		}

		source := procsrc.NewGopsutilSource()
		procs, err := source.Refresh(context.Background())
		if err != nil {
			return fmt.Errorf("refresh process table: %w", err)
		}

		matched := 0
		for _, p := range procs {
			if p.Status.Excluded() {
				continue
			}
			if !pattern.Matches(p, pat) {
				continue
			}
			matched++
			fmt.Printf("%7d  %-20s  %s\n", p.PID, p.Status, p.Name)
		}
		fmt.Printf("%d matching process(es)\n", matched)
		return nil
	},
}

func init() {
	psCmd.Flags().BoolVar(&psRegex, "regex", false, "treat the pattern as a regular expression")
	psCmd.Flags().StringVar(&psLocation, "location", "name", "where to match: exe_path | cmdline | name")
	rootCmd.AddCommand(psCmd)
}

func parseLocation(s string) (pattern.Location, error) {
	switch s {
	case "exe_path":
		return pattern.ExePath, nil
	case "cmdline":
		return pattern.Cmdline, nil
	case "name":
		return pattern.Name, nil
	default:
		return 0, fmt.Errorf("unrecognised --location %q (want exe_path, cmdline, or name)", s)
	}
}

func buildPattern(loc pattern.Location, needle string, isRegex bool) (pattern.Pattern, error) {
	if isRegex {
		re, err := pattern.NewRegexp(needle)
		if err != nil {
			return pattern.Pattern{}, err
		}
		return pattern.New(loc, re), nil
	}
	return pattern.New(loc, pattern.Literal(needle)), nil
}
