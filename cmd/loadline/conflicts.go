package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadline/internal/domain"
	"loadline/internal/engine"
	"loadline/internal/repo"
)

func loadCmd() *cobra.Command {
	l := &cobra.Command{Use: "load", Short: "Inspect per-day load"}
	l.AddCommand(loadShowCmd())
	return l
}

func loadShowCmd() *cobra.Command {
	var resourceID, from, to string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show weighted load, capacity and severity per day",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				days, err := s.Engine.Load(ctx, resourceID, rng)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(days)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Day", "Load %", "Capacity %", "Hours", "Severity", "Bookings"})
				for _, d := range days {
					tw.AppendRow(table.Row{d.Date, d.Date.Weekday().String()[:3], d.Total, d.Capacity, d.Hours.StringFixed(1), d.Severity, len(d.Contributors)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func conflictCmd() *cobra.Command {
	c := &cobra.Command{Use: "conflict", Short: "Inspect and resolve conflicts"}
	c.AddCommand(conflictListCmd())
	c.AddCommand(conflictResolveCmd())
	return c
}

func conflictListCmd() *cobra.Command {
	var resourceID, from, to, severity, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := optionalRange(from, to)
			if err != nil {
				return err
			}
			q := engine.ConflictQuery{Range: rng, Severity: domain.Severity(strings.ToUpper(severity)), Limit: limit}
			switch status {
			case "", "all":
			case "open":
				v := false
				q.Resolved = &v
			case "resolved":
				v := true
				q.Resolved = &v
			default:
				return fmt.Errorf("--status must be open, resolved or all")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				items, err := s.Engine.ListConflicts(ctx, resourceID, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Resource", "Date", "Load %", "Capacity %", "Severity", "State", "Projects"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.ResourceID, c.ConflictDate, c.TotalAllocation, c.Capacity, c.Severity, c.State(), strings.Join(c.AffectedProjects, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource filter")
	cmd.Flags().StringVar(&from, "from", "", "first day")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	cmd.Flags().StringVar(&severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&status, "status", "open", "open, resolved or all")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func conflictResolveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Accept a conflict; it stays closed until the day's load changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				c, err := s.Engine.ResolveConflict(ctx, args[0], s.Runtime.Actor, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "resolution note")
	return cmd
}

func recomputeCmd() *cobra.Command {
	var resourceID, from, to string
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Re-derive conflicts for a span",
		Long:  "Normally automatic. Use after importing a policy or capacity entries from another system.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			if resourceID == "" && !all {
				return fmt.Errorf("--resource or --all required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				ids := []string{resourceID}
				if all {
					resources, err := s.Engine.Repo.ListResources(ctx, s.Engine.Config.Organization.ID)
					if err != nil {
						return err
					}
					ids = ids[:0]
					for _, r := range resources {
						ids = append(ids, r.ID)
					}
				}
				var results []engine.RecomputeResult
				for _, id := range ids {
					res, err := s.Engine.RecomputeWithRetry(ctx, engine.RecomputeRequest{ResourceID: id, Range: rng, Reason: "operator"})
					if err != nil {
						return fmt.Errorf("resource %s: %w", id, err)
					}
					results = append(results, res)
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Resource", "Days", "Created", "Updated", "Resolved", "Reopened", "Suppressed", "Unchanged"})
				for _, r := range results {
					o := r.Outcome
					tw.AppendRow(table.Row{r.ResourceID, r.Days, o.Created, o.Updated, o.Resolved, o.Reopened, o.Suppressed, o.Unchanged})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id")
	cmd.Flags().BoolVar(&all, "all", false, "every resource of the organization")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every allocation change and conflict transition, written in the same transaction as the change.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				f.OrganizationID = s.Engine.Config.Organization.ID
				items, err := s.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
