package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enterprise/risk-registry/internal/models"
)

// parseFactor reads name:weight:score[:description].
func parseFactor(s string) (models.RiskFactor, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 3 || parts[0] == "" {
		return models.RiskFactor{}, fmt.Errorf("%w: factor %q, want name:weight:score[:description]", models.ErrInvalidInput, s)
	}
	weight, err := parseUint8("factor weight", parts[1])
	if err != nil {
		return models.RiskFactor{}, err
	}
	score, err := parseUint8("factor score", parts[2])
	if err != nil {
		return models.RiskFactor{}, err
	}
	f := models.RiskFactor{Name: parts[0], Weight: weight, Score: score}
	if len(parts) == 4 {
		f.Description = parts[3]
	}
	return f, nil
}

func (c *cli) riskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "risk", Short: "Risk scores, the global watchlist and thresholds"}

	var (
		sub      [4]uint8
		analysis string
		factors  []string
		limit    int
	)

	setScore := &cobra.Command{
		Use:   "set-score <target> <overall>",
		Short: "Replace a target's score and factors (analyst)",
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
			overall, err := parseUint8("overall score", args[1])
			if err != nil {
				return err
			}
			list := make([]models.RiskFactor, 0, len(factors))
			for _, raw := range factors {
				f, err := parseFactor(raw)
				if err != nil {
					return err
				}
				list = append(list, f)
			}
			score := models.RiskScore{
				Overall:           overall,
				LiquidityRisk:     sub[0],
				VolatilityRisk:    sub[1],
				SmartContractRisk: sub[2],
				ConcentrationRisk: sub[3],
				Analysis:          analysis,
			}
			if err := c.d.Risk.UpdateRiskScore(cmd.Context(), caller, target, score, list); err != nil {
				return err
			}
			severity, err := c.d.Risk.ClassifyRisk(cmd.Context(), target)
			if err != nil {
				return err
			}
			return c.ok("set-score", map[string]any{"target": target, "severity": severity})
		},
	}
	setScore.Flags().Uint8Var(&sub[0], "liquidity", 0, "liquidity risk 0-100")
	setScore.Flags().Uint8Var(&sub[1], "volatility", 0, "volatility risk 0-100")
	setScore.Flags().Uint8Var(&sub[2], "smart-contract", 0, "smart contract risk 0-100")
	setScore.Flags().Uint8Var(&sub[3], "concentration", 0, "concentration risk 0-100")
	setScore.Flags().StringVar(&analysis, "analysis", "", "free-text analysis")
	setScore.Flags().StringArrayVar(&factors, "factor", nil, "factor as name:weight:score[:description], repeatable")

	top := &cobra.Command{
		Use:   "top",
		Short: "List watched targets with a nonzero score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.d.Risk.GetTopRiskyAddresses(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return c.print(list)
		},
	}
	top.Flags().IntVar(&limit, "limit", 0, "maximum targets (0 means 10)")

	cmd.AddCommand(
		setScore,
		&cobra.Command{
			Use:   "score <target>",
			Short: "Show a target's score, factors and severity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				target, err := parseAddressArg(args[0])
				if err != nil {
					return err
				}
				score, err := c.d.Risk.GetRiskScore(cmd.Context(), target)
				if err != nil {
					return err
				}
				list, err := c.d.Risk.GetRiskFactors(cmd.Context(), target)
				if err != nil {
					return err
				}
				severity, err := c.d.Risk.ClassifyRisk(cmd.Context(), target)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"score": score, "factors": list, "severity": severity})
			},
		},
		&cobra.Command{
			Use:   "watch <target> <label>",
			Short: "Add a target to the global watchlist (analyst)",
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
				if err := c.d.Risk.AddToWatchlist(cmd.Context(), caller, target, args[1]); err != nil {
					return err
				}
				return c.ok("watch", map[string]any{"target": target})
			},
		},
		&cobra.Command{
			Use:   "unwatch <target>",
			Short: "Remove a target from the global watchlist (analyst)",
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
				if err := c.d.Risk.RemoveFromWatchlist(cmd.Context(), caller, target); err != nil {
					return err
				}
				return c.ok("unwatch", map[string]any{"target": target})
			},
		},
		&cobra.Command{
			Use:   "watchlist",
			Short: "List the global watchlist (order is not stable)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				entries, err := c.d.Risk.GetWatchlist(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(entries)
			},
		},
		&cobra.Command{
			Use:   "set-thresholds <high> <medium> <low>",
			Short: "Replace the severity thresholds (admin)",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				caller, err := c.caller()
				if err != nil {
					return err
				}
				var t [3]uint8
				for i, name := range []string{"high", "medium", "low"} {
					if t[i], err = parseUint8(name+" threshold", args[i]); err != nil {
						return err
					}
				}
				if err := c.d.Risk.UpdateRiskThresholds(cmd.Context(), caller, t[0], t[1], t[2]); err != nil {
					return err
				}
				return c.ok("set-thresholds", map[string]any{"high": t[0], "medium": t[1], "low": t[2]})
			},
		},
		&cobra.Command{
			Use:   "thresholds",
			Short: "Show the severity thresholds",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				t, err := c.d.Risk.GetRiskThresholds(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(t)
			},
		},
		top,
	)
	return cmd
}
