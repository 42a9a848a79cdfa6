package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tollfree-ivr/internal/calls"
	"tollfree-ivr/internal/config"
	"tollfree-ivr/internal/ivr"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/telephony"
	"tollfree-ivr/pkg/utils"
)

func loadCatalog(path string) (*routing.Catalog, error) {
	if path == "" {
		return routing.DefaultCatalog(), nil
	}
	return routing.LoadCatalogFile(path)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a policy catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := routing.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range c.Policies() {
				fmt.Fprintf(out, "%-24s %-16s routes=%v\n", p.TenantID, p.Number, p.Routes())
			}
			fmt.Fprintf(out, "ok: %d numbers\n", len(c.Policies()))
			return nil
		},
	}
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the markup a caller would get for one event",
		Long: `Render runs a single event through the IVR state machine against a
fresh session and prints the resulting call-control document.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			number, _ := cmd.Flags().GetString("number")
			event, _ := cmd.Flags().GetString("event")
			digits, _ := cmd.Flags().GetString("digits")
			speech, _ := cmd.Flags().GetString("speech")

			c, err := loadCatalog(file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tenantID, err := c.TenantForNumber(ctx, number)
			if err != nil {
				return fmt.Errorf("%s: %w", number, err)
			}
			p, err := c.Resolve(ctx, tenantID, number)
			if err != nil {
				return err
			}

			ev := calls.Event{Digits: digits, Speech: speech}
			switch event {
			case "initiated":
				ev.Kind = calls.EventInitiated
			case "input":
				ev.Kind = calls.EventInput
			case "hangup":
				ev.Kind = calls.EventHangup
			default:
				return fmt.Errorf("unknown event %q (initiated, input, hangup)", event)
			}

			now := time.Now()
			s := calls.NewSession("ivrctl", tenantID, "", number, now)
			step := ivr.Machine{}.Step(s, p, ev, now)
			b, err := telephony.Render(step.Response)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			fmt.Fprintf(cmd.ErrOrStderr(), "outcome=%s state=%s\n", step.Outcome, step.Session.State)
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "Policy catalog (default: built-in)")
	cmd.Flags().StringP("number", "n", "+1-800-596-3057", "Dialed toll-free number")
	cmd.Flags().StringP("event", "e", "initiated", "Event kind (initiated, input, hangup)")
	cmd.Flags().StringP("digits", "d", "", "DTMF digits for input events")
	cmd.Flags().String("speech", "", "Speech transcript for input events")

	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Upsert a policy catalog into Postgres (DB_* env)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := routing.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.NeedsPostgres() {
				return fmt.Errorf("import needs POLICY_SOURCE=postgres or JOURNAL_STORE=postgres with DB_* set")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			src := routing.PostgresSource{DB: db, Now: time.Now}
			if err := src.Save(ctx, c.Policies()...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d policies\n", len(c.Policies()))
			return nil
		},
	}
}
