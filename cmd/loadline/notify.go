package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"loadline/internal/notify"
)

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Deliver events to webhooks and Pub/Sub",
		Long: `Reads the event log after each sink's saved cursor and delivers to the sinks in the policy's
notify section. Delivery is at least once; receivers deduplicate on the event id or on the
payload's conflict_id and state. Pub/Sub credentials come from LOADLINE_PUBSUB_CREDENTIALS_JSON
or Application Default Credentials.`,
	}
	n.PersistentFlags().Bool("from-start", false, "replay the whole log for sinks that have never delivered")
	n.AddCommand(notifyRunCmd())
	n.AddCommand(notifyOnceCmd())
	return n
}

func notifyRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll and deliver until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withDispatcher(ctx, cmd, func(ctx context.Context, d *notify.Dispatcher) error {
				d.Logger.Info("dispatcher started", zap.Int("sinks", len(d.Sinks)), zap.Duration("interval", d.Interval))
				err := d.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func notifyOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Deliver one batch per sink and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(cmd.Context(), cmd, func(ctx context.Context, d *notify.Dispatcher) error {
				res, err := d.DispatchOnce(ctx)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(res); err != nil {
					return err
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d sink(s) failed", len(res.Failed))
				}
				return nil
			})
		},
	}
}

func withDispatcher(ctx context.Context, cmd *cobra.Command, fn func(context.Context, *notify.Dispatcher) error) error {
	return withEngine(ctx, func(ctx context.Context, s session) error {
		cfg := s.Engine.Config
		sinks := notify.WebhookSinks(cfg, nil)
		if cfg.Notify.PubSub.Enabled() {
			var opts []option.ClientOption
			if creds := viper.GetString("pubsub-credentials-json"); creds != "" {
				opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
			}
			client, err := pubsub.NewClient(ctx, cfg.Notify.PubSub.ProjectID, opts...)
			if err != nil {
				return fmt.Errorf("pubsub client: %w", err)
			}
			defer client.Close()
			ps := notify.NewPubSubSink(client, cfg.Notify.PubSub)
			defer ps.Stop()
			sinks = append(sinks, ps)
		}
		if len(sinks) == 0 {
			return fmt.Errorf("no notify sinks configured for %s", cfg.Organization.ID)
		}
		d := notify.NewDispatcher(s.Engine.Repo, cfg.Organization.ID, sinks, s.Logger)
		d.FromStart, _ = cmd.Flags().GetBool("from-start")
		return fn(ctx, d)
	})
}
