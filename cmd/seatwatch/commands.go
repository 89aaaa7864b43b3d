package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/seatwatch/internal/dto"
	"github.com/noah-isme/seatwatch/internal/models"
	"github.com/noah-isme/seatwatch/pkg/database"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one availability check cycle and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary := a.monitor.RunCycle(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Error != "" {
				return fmt.Errorf("cycle failed: %s", summary.Error)
			}
			return nil
		},
	}
}

func migrateCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(state.cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			state.logger.Sugar().Infow("schema applied", "driver", state.cfg.Database.Driver)
			return nil
		},
	}
}

func subscribeCommand(state *cli) *cobra.Command {
	var (
		req      dto.CreateSubscriptionRequest
		section  string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create a seat alert and send its verification message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if section != "" {
				req.SectionKey = &section
			}
			enabled := !disabled
			req.Enabled = &enabled

			a, err := newApp(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.subscriptions.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().StringVar(&req.InstitutionKey, "institution", "", "institution key")
	cmd.Flags().StringVar(&req.CourseKey, "course", "", "course key")
	cmd.Flags().StringVar(&section, "section", "", "section or meeting id (empty watches any section)")
	cmd.Flags().StringVar(&req.TermKey, "term", "", "term key")
	cmd.Flags().StringVar(&req.Contact, "contact", "", "phone number or email address")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the alert disabled")
	for _, name := range []string{"institution", "course", "term", "contact"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func verifyCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <access-key> <contact>",
		Short: "Record a verification reply for a seat alert",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.subscriptions.Verify(cmd.Context(), dto.VerifyContactRequest{AccessKey: args[0], Contact: args[1]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
}

func tokenCommand(state *cli) *cobra.Command {
	var (
		subject string
		role    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, expiresAt, err := newTokenService(state.cfg).Issue(subject, models.OperatorRole(strings.ToUpper(role)))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"token":     token,
				"expiresAt": expiresAt.Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator name recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleOperator), "OPERATOR or VIEWER")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
