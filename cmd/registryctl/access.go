package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/enterprise/risk-registry/internal/access"
	"github.com/enterprise/risk-registry/internal/deploy"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/platform"
	"github.com/enterprise/risk-registry/internal/risk"
	"github.com/enterprise/risk-registry/internal/watchlist"
)

func (c *cli) guard(name string) (*access.Guard, error) {
	switch name {
	case platform.Namespace:
		return c.d.Platform.Guard, nil
	case risk.Namespace:
		return c.d.Risk.Guard, nil
	case watchlist.Namespace:
		return c.d.Watchlist.Guard, nil
	}
	return nil, fmt.Errorf("%w: unknown registry %q (platform, risk, watchlist)", models.ErrInvalidInput, name)
}

func (c *cli) deployCmd() *cobra.Command {
	var (
		price    string
		operator string
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Initialise the three registries and wire their role grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deployer, err := c.caller()
			if err != nil {
				return err
			}
			opts := deploy.Options{
				PricePerMonth: c.cfg.Registry.PricePerMonth,
				Transferer:    c.ledger,
				Guard:         c.app.GuardOptions(),
			}
			if price != "" {
				if opts.PricePerMonth, err = decimal.NewFromString(price); err != nil {
					return fmt.Errorf("%w: price: %v", models.ErrInvalidInput, err)
				}
			}
			if operator == "" {
				operator = c.cfg.Registry.BridgeOperator
			}
			if operator != "" {
				if opts.BridgeOperator, err = models.ParseAddress(operator); err != nil {
					return err
				}
			}

			d, err := deploy.Deploy(cmd.Context(), c.app.Store, deployer, opts)
			if err != nil {
				return err
			}
			c.d = d
			return c.print(map[string]any{
				"deployer":   deployer,
				"identities": d.Identities,
			})
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "subscription price per month (defaults to SUBSCRIPTION_PRICE_PER_MONTH)")
	cmd.Flags().StringVar(&operator, "bridge-operator", "", "principal granted the watchlist admin role for alerting")
	return cmd
}

func (c *cli) roleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Manage registry roles"}

	change := func(use, short string, fn func(g *access.Guard, cmd *cobra.Command, caller models.Address, role access.Role, who models.Address) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <registry> <role> <account>",
			Short: short,
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				g, err := c.guard(args[0])
				if err != nil {
					return err
				}
				role, err := access.ParseRole(args[1])
				if err != nil {
					return err
				}
				who, err := parseAddressArg(args[2])
				if err != nil {
					return err
				}
				if err := fn(g, cmd, caller, role, who); err != nil {
					return err
				}
				return c.ok(use, map[string]any{"registry": args[0], "role": role, "account": who})
			},
		}
	}

	cmd.AddCommand(
		change("grant", "Grant a role", func(g *access.Guard, cmd *cobra.Command, caller models.Address, role access.Role, who models.Address) error {
			return g.GrantRole(cmd.Context(), caller, role, who)
		}),
		change("revoke", "Revoke a role", func(g *access.Guard, cmd *cobra.Command, caller models.Address, role access.Role, who models.Address) error {
			return g.RevokeRole(cmd.Context(), caller, role, who)
		}),
		&cobra.Command{
			Use:   "renounce <registry> <role>",
			Short: "Drop one of your own roles",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				g, err := c.guard(args[0])
				if err != nil {
					return err
				}
				role, err := access.ParseRole(args[1])
				if err != nil {
					return err
				}
				if err := g.RenounceRole(cmd.Context(), caller, role); err != nil {
					return err
				}
				return c.ok("renounce", map[string]any{"registry": args[0], "role": role})
			},
		},
		&cobra.Command{
			Use:   "set-admin <registry> <role> <admin-role>",
			Short: "Change which role administers a role",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				g, err := c.guard(args[0])
				if err != nil {
					return err
				}
				role, err := access.ParseRole(args[1])
				if err != nil {
					return err
				}
				admin, err := access.ParseRole(args[2])
				if err != nil {
					return err
				}
				if err := g.SetRoleAdmin(cmd.Context(), caller, role, admin); err != nil {
					return err
				}
				return c.ok("set-admin", map[string]any{"registry": args[0], "role": role, "admin_role": admin})
			},
		},
		&cobra.Command{
			Use:   "has <registry> <role> <account>",
			Short: "Check whether an account holds a role",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				g, err := c.guard(args[0])
				if err != nil {
					return err
				}
				role, err := access.ParseRole(args[1])
				if err != nil {
					return err
				}
				who, err := parseAddressArg(args[2])
				if err != nil {
					return err
				}
				held, err := g.HasRole(cmd.Context(), role, who)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"registry": args[0], "role": role, "account": who, "has_role": held})
			},
		},
	)
	return cmd
}

func (c *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <registry>",
		Short: "Stop all mutations of a registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := c.caller()
			if err != nil {
				return err
			}
			g, err := c.guard(args[0])
			if err != nil {
				return err
			}
			if err := g.Pause(cmd.Context(), caller); err != nil {
				return err
			}
			return c.ok("pause", map[string]any{"registry": args[0]})
		},
	}
}

func (c *cli) unpauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpause <registry>",
		Short: "Resume mutations of a paused registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := c.caller()
			if err != nil {
				return err
			}
			g, err := c.guard(args[0])
			if err != nil {
				return err
			}
			if err := g.Unpause(cmd.Context(), caller); err != nil {
				return err
			}
			return c.ok("unpause", map[string]any{"registry": args[0]})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show initialisation and pause state of every registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := map[string]any{}
			for _, name := range []string{platform.Namespace, risk.Namespace, watchlist.Namespace} {
				g, _ := c.guard(name)
				initialized, err := g.Initialized(cmd.Context())
				if err != nil {
					return err
				}
				paused, err := g.Paused(cmd.Context())
				if err != nil {
					return err
				}
				out[name] = map[string]bool{"initialized": initialized, "paused": paused}
			}
			return c.print(out)
		},
	}
}
