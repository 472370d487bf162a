package main

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/enterprise/risk-registry/internal/models"
)

func parseUint8(name, s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", models.ErrInvalidInput, name, s)
	}
	return uint8(v), nil
}

func parseAmount(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q", models.ErrInvalidInput, name, s)
	}
	return d, nil
}

func (c *cli) platformCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "platform", Short: "Users, subscriptions, risk events and revenue"}

	var (
		evidence string
		limit    int
	)

	report := &cobra.Command{
		Use:   "report <target> <risk-level> <risk-type> <description>",
		Short: "Report a risk event (analyst)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := c.caller()
			if err != nil {
				return err
			}
			target, err := parseAddressArg(args[0])
			if err != nil {
				return err
			}
			level, err := parseUint8("risk level", args[1])
			if err != nil {
				return err
			}
			id, err := c.d.Platform.ReportRiskEvent(cmd.Context(), caller, target, level, args[2], args[3], evidence)
			if err != nil {
				return err
			}
			return c.ok("report", map[string]any{"event_id": id})
		},
	}
	report.Flags().StringVar(&evidence, "evidence", "", "evidence reference")

	events := &cobra.Command{
		Use:   "events <target>",
		Short: "List risk events about a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseAddressArg(args[0])
			if err != nil {
				return err
			}
			list, err := c.d.Platform.GetRiskEventsForTarget(cmd.Context(), target, limit)
			if err != nil {
				return err
			}
			return c.print(list)
		},
	}
	events.Flags().IntVar(&limit, "limit", 0, "maximum events (0 means 50)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "register",
			Short: "Register the calling principal",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				if err := c.d.Platform.Register(cmd.Context(), caller); err != nil {
					return err
				}
				return c.ok("register", map[string]any{"user": caller})
			},
		},
		&cobra.Command{
			Use:   "subscribe <months> <payment>",
			Short: "Buy 1-12 months of service",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				months, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("%w: months %q", models.ErrInvalidPeriod, args[0])
				}
				payment, err := parseAmount("payment", args[1])
				if err != nil {
					return err
				}
				if err := c.d.Platform.Subscribe(cmd.Context(), caller, uint(months), payment); err != nil {
					return err
				}
				profile, err := c.d.Platform.GetUserProfile(cmd.Context(), caller)
				if err != nil {
					return err
				}
				return c.ok("subscribe", map[string]any{"expiry": profile.SubscriptionExpiry})
			},
		},
		report,
		events,
		&cobra.Command{
			Use:   "event <id>",
			Short: "Show one risk event",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("%w: event id %q", models.ErrInvalidInput, args[0])
				}
				e, err := c.d.Platform.GetRiskEvent(cmd.Context(), id)
				if err != nil {
					return err
				}
				return c.print(e)
			},
		},
		&cobra.Command{
			Use:   "profile <account>",
			Short: "Show a user profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				who, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				p, err := c.d.Platform.GetUserProfile(cmd.Context(), who)
				if err != nil {
					return err
				}
				active, err := c.d.Platform.HasActiveSubscription(cmd.Context(), who)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"profile": p, "active_subscription": active})
			},
		},
		&cobra.Command{
			Use:   "collect",
			Short: "Collect the platform balance (admin)",
			Long: "Collect the platform balance (admin).\n\n" +
				"The payout is recorded in this invocation's in-process ledger only; the printed " +
				"receipt is the sole record of the transfer. The registry balance is zeroed durably.",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				amount, err := c.d.Platform.CollectRevenue(cmd.Context(), caller)
				if err != nil {
					return err
				}
				return c.ok("collect", map[string]any{
					"amount": amount,
					"receipt": map[string]any{
						"recipient": caller,
						"received":  c.ledger.BalanceOf(caller),
						"ledger":    "in-process",
					},
				})
			},
		},
		&cobra.Command{
			Use:   "set-price <price>",
			Short: "Change the monthly subscription price (admin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				price, err := parseAmount("price", args[0])
				if err != nil {
					return err
				}
				if err := c.d.Platform.UpdateSubscriptionPrice(cmd.Context(), caller, price); err != nil {
					return err
				}
				return c.ok("set-price", map[string]any{"price_per_month": price})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show platform totals",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := c.d.Platform.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(s)
			},
		},
	)
	return cmd
}
