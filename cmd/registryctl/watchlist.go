package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/enterprise/risk-registry/internal/models"
)

func (c *cli) watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "watchlist", Short: "Personal watchlists, alerts and settings"}

	var (
		threshold uint8
		notes     string
		riskType  string
		message   string
	)

	itemCmd := func(use, short string, update bool) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " <target> <label>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				target, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				if update {
					err = c.d.Watchlist.UpdateWatchlistItem(cmd.Context(), caller, target, args[1], threshold, notes)
				} else {
					err = c.d.Watchlist.AddToWatchlist(cmd.Context(), caller, target, args[1], threshold, notes)
				}
				if err != nil {
					return err
				}
				return c.ok(use, map[string]any{"target": target})
			},
		}
		sub.Flags().Uint8Var(&threshold, "threshold", 0, "custom alert threshold 0-100 (0 uses your default)")
		sub.Flags().StringVar(&notes, "notes", "", "free-text notes")
		return sub
	}

	alert := &cobra.Command{
		Use:   "alert <recipient> <target> <risk-level>",
		Short: "Create an alert in a user's inbox (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := c.caller()
			if err != nil {
				return err
			}
			recipient, err := parseAddressArg(args[0])
			if err != nil {
				return err
			}
			target, err := parseAddressArg(args[1])
			if err != nil {
				return err
			}
			level, err := parseUint8("risk level", args[2])
			if err != nil {
				return err
			}
			id, err := c.d.Watchlist.CreateAlert(cmd.Context(), caller, recipient, target, level, riskType, message)
			if err != nil {
				return err
			}
			return c.ok("alert", map[string]any{"alert_id": id})
		},
	}
	alert.Flags().StringVar(&riskType, "type", "manual", "risk type tag")
	alert.Flags().StringVar(&message, "message", "", "alert message")

	var notificationsOff bool
	settings := &cobra.Command{
		Use:   "set-settings <default-threshold>",
		Short: "Set your default threshold and notification switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := c.caller()
			if err != nil {
				return err
			}
			t, err := parseUint8("default threshold", args[0])
			if err != nil {
				return err
			}
			if err := c.d.Watchlist.UpdateUserSettings(cmd.Context(), caller, t, !notificationsOff); err != nil {
				return err
			}
			return c.ok("set-settings", map[string]any{"default_threshold": t, "notifications_enabled": !notificationsOff})
		},
	}
	settings.Flags().BoolVar(&notificationsOff, "mute", false, "disable notifications")

	cmd.AddCommand(
		itemCmd("add", "Add a target to your watchlist", false),
		itemCmd("update", "Edit a target on your watchlist", true),
		&cobra.Command{
			Use:   "remove <target>",
			Short: "Remove a target from your watchlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				target, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				if err := c.d.Watchlist.RemoveFromWatchlist(cmd.Context(), caller, target); err != nil {
					return err
				}
				return c.ok("remove", map[string]any{"target": target})
			},
		},
		&cobra.Command{
			Use:   "list <user>",
			Short: "Show a user's watchlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				items, err := c.d.Watchlist.GetUserWatchlist(cmd.Context(), user)
				if err != nil {
					return err
				}
				return c.print(items)
			},
		},
		&cobra.Command{
			Use:   "watchers <target>",
			Short: "List users watching a target",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				users, err := c.d.Watchlist.GetWatchers(cmd.Context(), target)
				if err != nil {
					return err
				}
				return c.print(users)
			},
		},
		alert,
		&cobra.Command{
			Use:   "alerts <user>",
			Short: "Show a user's inbox and unread count",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				alerts, err := c.d.Watchlist.GetUserAlerts(cmd.Context(), user)
				if err != nil {
					return err
				}
				unread, err := c.d.Watchlist.GetUnreadAlertCount(cmd.Context(), user)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"alerts": alerts, "unread": unread})
			},
		},
		&cobra.Command{
			Use:   "read <alert-id>",
			Short: "Mark one of your alerts as read",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("%w: alert id %q", models.ErrInvalidInput, args[0])
				}
				if err := c.d.Watchlist.MarkAlertAsRead(cmd.Context(), caller, id); err != nil {
					return err
				}
				return c.ok("read", map[string]any{"alert_id": id})
			},
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark all of your alerts as read",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				n, err := c.d.Watchlist.MarkAllAlertsAsRead(cmd.Context(), caller)
				if err != nil {
					return err
				}
				return c.ok("read-all", map[string]any{"marked": n})
			},
		},
		settings,
		&cobra.Command{
			Use:   "settings <user>",
			Short: "Show a user's settings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				s, err := c.d.Watchlist.GetUserSettings(cmd.Context(), user)
				if err != nil {
					return err
				}
				return c.print(s)
			},
		},
	)
	return cmd
}
