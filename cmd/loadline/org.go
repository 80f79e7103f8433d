package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadline/internal/config"
	"loadline/internal/engine"
	"loadline/internal/repo"
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgInitCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an organization with the default policy",
		Long:  "Creates the organization and stores its policy. A loadline.yml in the workspace is used instead of the defaults when present.",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("org")
			if id == "" {
				return fmt.Errorf("--org required")
			}
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.LoadOptional(workspace)
				if err != nil {
					return err
				}
				if cfg == nil {
					cfg = config.Default(id)
				}
				cfg.Organization.ID = id
				if name == "" {
					name = cfg.Organization.Name
				}
				e := engine.New(r.DB, cfg)
				o, err := e.InitOrganization(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func orgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				o, err := s.Engine.Repo.GetOrganization(ctx, s.Engine.Config.Organization.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect organization policy",
		Long:  "The policy (capacity baseline, weights, severity bands, recurrence, notification sinks) is stored per organization in the DB. Import it from a loadline.yml.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configTemplateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				if viper.GetBool("json") {
					return printJSON(s.Engine.Config)
				}
				out, err := s.Engine.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace stored policy from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			return withEngine(cmd.Context(), func(ctx context.Context, s session) error {
				orgID := s.Engine.Config.Organization.ID
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				cfg, err := config.FromYAML(data)
				if err != nil {
					return err
				}
				if cfg.Organization.ID != orgID {
					return fmt.Errorf("%s is for organization %q, not %q", file, cfg.Organization.ID, orgID)
				}
				if err := s.Engine.Repo.UpsertOrgConfig(ctx, orgID, cfg); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"imported": file, "organization_id": orgID})
				}
				fmt.Printf("imported %s into %s\n", file, orgID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "policy file (default <workspace>/loadline.yml)")
	return cmd
}

func configTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print the default policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("org")
			if id == "" {
				id = "my-org"
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
}
