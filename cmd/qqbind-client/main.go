// qqbind-client is a small CLI for driving a qqbind server: start a
// verification, wait for the token, bind a card key, and query bindings.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:           "qqbind-client",
		Short:         "Client for the qqbind verification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://127.0.0.1:8080", "Base URL of the qqbind server")

	cmd.AddCommand(newVerifyCommand(&server))
	cmd.AddCommand(newBindCommand(&server))
	cmd.AddCommand(newQueryCommand(&server))
	cmd.AddCommand(newStatsCommand(&server))
	return cmd
}

func newVerifyCommand(server *string) *cobra.Command {
	var (
		qq   string
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Start a QR verification and optionally wait for the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := newAPIClient(*server)

			start, err := c.startVerification(ctx, qq)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "session %s started for %s\n", start.SessionID, start.QQNumber)
			fmt.Fprintf(os.Stdout, "scan the qr code at %s%s\n", *server, start.QRURL)

			if !wait {
				return nil
			}

			final, err := c.waitForOutcome(ctx, qq, 2*time.Second)
			if err != nil {
				return err
			}
			switch final.Status {
			case "verified":
				fmt.Fprintf(os.Stdout, "verified: token %s (valid %d minutes)\n",
					final.VerificationToken, final.TokenExpiresMinute)
				return nil
			default:
				return fmt.Errorf("verification failed (%s): %s", final.Stage, final.Message)
			}
		},
	}

	cmd.Flags().StringVar(&qq, "qq", "", "QQ number to verify")
	cmd.Flags().BoolVar(&wait, "wait", true, "Poll until the verification completes")
	_ = cmd.MarkFlagRequired("qq")
	return cmd
}

func newBindCommand(server *string) *cobra.Command {
	var (
		token   string
		cardKey string
	)

	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Redeem a verification token and bind a card key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := newAPIClient(*server)

			res, err := c.bind(ctx, token, cardKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s binding for %s: card key %s\n", res.Action, res.QQNumber, res.CardKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Verification token from a completed verification")
	cmd.Flags().StringVar(&cardKey, "card-key", "", "Card key to bind")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("card-key")
	return cmd
}

func newQueryCommand(server *string) *cobra.Command {
	var qq string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up the binding for a QQ number",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := newAPIClient(*server)

			res, err := c.query(ctx, qq)
			if err != nil {
				return err
			}
			if !res.Bound {
				fmt.Fprintf(os.Stdout, "%s has no card key bound\n", qq)
				return nil
			}
			fmt.Fprintf(os.Stdout, "%s -> %s (bound %s, updated %s)\n",
				res.QQNumber, res.CardKey,
				res.BoundAt.Format(time.RFC3339), res.LastUpdate.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&qq, "qq", "", "QQ number to look up")
	_ = cmd.MarkFlagRequired("qq")
	return cmd
}

func newStatsCommand(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show binding and operation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := newAPIClient(*server)

			res, err := c.stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "total bindings: %d\n", res.TotalBindings)
			fmt.Fprintf(os.Stdout, "operations today: %d\n", res.TodayOperations)
			for action, n := range res.ActionStats {
				fmt.Fprintf(os.Stdout, "  %s: %d\n", action, n)
			}
			return nil
		},
	}
}
