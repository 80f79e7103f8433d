package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadline/internal/domain"
)

func resourceCmd() *cobra.Command {
	res := &cobra.Command{
		Use:   "resource",
		Short: "Mirror directory resources",
		Long:  "Resources normally come from the identity directory; these commands keep the local copy in step.",
	}
	res.AddCommand(resourceAddCmd())
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceActiveCmd("deactivate", false))
	res.AddCommand(resourceActiveCmd("activate", true))
	return res
}

func resourceAddCmd() *cobra.Command {
	var id, workspaceID, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				res := domain.Resource{
					ID:             id,
					OrganizationID: s.Engine.Config.Organization.ID,
					WorkspaceID:    workspaceID,
					Name:           name,
					Active:         true,
				}
				if err := s.Engine.Repo.UpsertResource(ctx, res); err != nil {
					return err
				}
				stored, err := s.Engine.Repo.GetResource(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "resource (user) id")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "default", "workspace used for capacity entries")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func resourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				items, err := s.Engine.Repo.ListResources(ctx, s.Engine.Config.Organization.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Workspace", "Active"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.WorkspaceID, r.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func resourceActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <resource-id>",
		Short: fmt.Sprintf("Mark a resource %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.Engine.Repo.SetResourceActive(ctx, args[0], active); err != nil {
					return fmt.Errorf("resource %s: %w", args[0], err)
				}
				res, err := s.Engine.Repo.GetResource(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func capacityCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "capacity",
		Short: "Manage explicit working-hours entries",
		Long:  "Days without an entry count as full capacity. Weekends and leave are recorded as entries, usually with 0 hours.",
	}
	c.AddCommand(capacitySetCmd())
	c.AddCommand(capacityClearCmd())
	c.AddCommand(capacityListCmd())
	return c
}

func capacitySetCmd() *cobra.Command {
	var resourceID, from, to, hours string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set capacity hours for each day in a span",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			h, err := parseDecimal("hours", hours)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				var out []domain.CapacityEntry
				err := rng.Each(func(day domain.Date) error {
					entry, err := s.Engine.SetCapacity(ctx, resourceID, day, h)
					if err != nil {
						return err
					}
					out = append(out, entry)
					return nil
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id")
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, inclusive (defaults to --from)")
	cmd.Flags().StringVar(&hours, "hours", "0", "working hours for each day")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func capacityClearCmd() *cobra.Command {
	var resourceID, date string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove an entry so the day counts as full capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate("date", date)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				return s.Engine.ClearCapacity(ctx, resourceID, day)
			})
		},
	}
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id")
	cmd.Flags().StringVar(&date, "date", "", "day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func capacityListCmd() *cobra.Command {
	var resourceID, from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capacity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				items, err := s.Engine.CapacityEntries(ctx, resourceID, rng)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Weekday", "Hours"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Date, c.Date.Weekday(), c.CapacityHours})
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
