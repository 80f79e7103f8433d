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

func allocCmd() *cobra.Command {
	a := &cobra.Command{
		Use:     "alloc",
		Aliases: []string{"allocation"},
		Short:   "Manage allocations",
		Long:    "Every create, update and delete recomputes the conflicts of the days it touches.",
	}
	a.AddCommand(allocCreateCmd())
	a.AddCommand(allocUpdateCmd())
	a.AddCommand(allocDeleteCmd())
	a.AddCommand(allocShowCmd())
	a.AddCommand(allocListCmd())
	return a
}

func allocCreateCmd() *cobra.Command {
	var in struct {
		id, resource, project, task, from, to, pct, hours, typ, source, justification string
	}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Book part of a resource's time",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(in.from, in.to)
			if err != nil {
				return err
			}
			p, err := parseDecimal("pct", in.pct)
			if err != nil {
				return err
			}
			input := engine.AllocationInput{
				ID:                   in.id,
				ResourceID:           in.resource,
				ProjectID:            in.project,
				TaskID:               in.task,
				StartDate:            rng.Start,
				EndDate:              rng.End,
				AllocationPercentage: p,
				Type:                 domain.AllocationType(strings.ToUpper(in.typ)),
				BookingSource:        domain.BookingSource(strings.ToUpper(in.source)),
				Justification:        in.justification,
				ActorID:              viper.GetString("actor-id"),
			}
			if in.hours != "" {
				if input.HoursPerDay, err = parseDecimal("hours-per-day", in.hours); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				a, err := s.Engine.RecordAllocation(ctx, input)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.id, "id", "", "allocation id (generated when empty)")
	f.StringVar(&in.resource, "resource", "", "resource id")
	f.StringVar(&in.project, "project", "", "project id")
	f.StringVar(&in.task, "task", "", "task id")
	f.StringVar(&in.from, "from", "", "first day (YYYY-MM-DD)")
	f.StringVar(&in.to, "to", "", "last day, inclusive (defaults to --from)")
	f.StringVar(&in.pct, "pct", "", "percentage of the day, 0-100")
	f.StringVar(&in.hours, "hours-per-day", "", "hours per day (default from policy)")
	f.StringVar(&in.typ, "type", string(domain.AllocationHard), "HARD, SOFT or GHOST")
	f.StringVar(&in.source, "source", "", "MANUAL, JIRA, GITHUB or AI")
	f.StringVar(&in.justification, "justification", "", "why the booking exists")
	for _, name := range []string{"resource", "project", "from", "pct"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func allocUpdateCmd() *cobra.Command {
	var project, task, from, to, pct, hours, typ, source, justification string
	cmd := &cobra.Command{
		Use:   "update <allocation-id>",
		Short: "Change an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := engine.AllocationChanges{ActorID: viper.GetString("actor-id")}
			flags := cmd.Flags()
			if flags.Changed("project") {
				ch.ProjectID = &project
			}
			if flags.Changed("task") {
				ch.TaskID = &task
			}
			if flags.Changed("from") {
				d, err := parseDate("from", from)
				if err != nil {
					return err
				}
				ch.StartDate = &d
			}
			if flags.Changed("to") {
				d, err := parseDate("to", to)
				if err != nil {
					return err
				}
				ch.EndDate = &d
			}
			if flags.Changed("pct") {
				v, err := parseDecimal("pct", pct)
				if err != nil {
					return err
				}
				ch.AllocationPercentage = &v
			}
			if flags.Changed("hours-per-day") {
				v, err := parseDecimal("hours-per-day", hours)
				if err != nil {
					return err
				}
				ch.HoursPerDay = &v
			}
			if flags.Changed("type") {
				t := domain.AllocationType(strings.ToUpper(typ))
				ch.Type = &t
			}
			if flags.Changed("source") {
				s := domain.BookingSource(strings.ToUpper(source))
				ch.BookingSource = &s
			}
			if flags.Changed("justification") {
				ch.Justification = &justification
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				a, err := s.Engine.UpdateAllocation(ctx, args[0], ch)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&project, "project", "", "project id")
	f.StringVar(&task, "task", "", "task id (empty clears)")
	f.StringVar(&from, "from", "", "first day")
	f.StringVar(&to, "to", "", "last day, inclusive")
	f.StringVar(&pct, "pct", "", "percentage of the day")
	f.StringVar(&hours, "hours-per-day", "", "hours per day")
	f.StringVar(&typ, "type", "", "HARD, SOFT or GHOST")
	f.StringVar(&source, "source", "", "MANUAL, JIRA, GITHUB or AI")
	f.StringVar(&justification, "justification", "", "why the booking exists")
	return cmd
}

func allocDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <allocation-id>",
		Short: "Remove an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.Engine.DeleteAllocation(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func allocShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <allocation-id>",
		Short: "Show an allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				a, err := s.Engine.GetAllocation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func allocListCmd() *cobra.Command {
	var f repo.AllocationFilters
	var typ, from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List allocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := optionalRange(from, to)
			if err != nil {
				return err
			}
			f.Range = rng
			f.Type = domain.AllocationType(strings.ToUpper(typ))
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				items, err := s.Engine.ListAllocations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Resource", "Project", "Span", "Pct", "Type", "Source"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.ResourceID, a.ProjectID, a.Range(), a.AllocationPercentage, a.Type, a.BookingSource})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ResourceID, "resource", "", "resource filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	cmd.Flags().StringVar(&from, "from", "", "overlapping from day")
	cmd.Flags().StringVar(&to, "to", "", "overlapping to day")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}
