package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/enterprise/risk-registry/configs"
	"github.com/enterprise/risk-registry/internal/app"
	"github.com/enterprise/risk-registry/internal/deploy"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/payout"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], openApp, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", models.Code(err), err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context, cfg *configs.Config) (*app.App, error) {
	return app.Open(ctx, cfg, app.Options{})
}

// cli is the state shared by every command of one invocation.
type cli struct {
	open func(ctx context.Context, cfg *configs.Config) (*app.App, error)
	out  io.Writer

	as       string
	deployer string

	cfg    *configs.Config
	app    *app.App
	ledger *payout.Ledger
	d      *deploy.Deployment
}

// execute runs one invocation and releases the app whether or not the command
// failed.
func execute(ctx context.Context, args []string, open func(ctx context.Context, cfg *configs.Config) (*app.App, error), out io.Writer) (err error) {
	root, c := newRootCmd(open, out)
	defer func() {
		if closeErr := c.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(open func(ctx context.Context, cfg *configs.Config) (*app.App, error), out io.Writer) (*cobra.Command, *cli) {
	c := &cli{open: open, out: out, ledger: payout.NewLedger()}

	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Operate the DeFi risk registries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.as, "as", "", "principal address making the call")
	root.PersistentFlags().StringVar(&c.deployer, "deployer", "", "deployer address (defaults to REGISTRY_DEPLOYER)")

	root.AddCommand(
		c.deployCmd(),
		c.roleCmd(),
		c.pauseCmd(),
		c.unpauseCmd(),
		c.statusCmd(),
		c.platformCmd(),
		c.riskCmd(),
		c.watchlistCmd(),
	)
	return root, c
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	a := c.app
	c.app = nil
	return a.Close()
}

func (c *cli) setup(ctx context.Context) error {
	c.cfg = configs.Load()
	configs.SetupLogging(c.cfg.Server.Environment)

	deployer, err := app.ParseAddressOr(c.deployer, models.ZeroAddress)
	if err != nil {
		return err
	}
	if deployer.IsZero() {
		if deployer, err = app.ParseAddressOr(c.cfg.Registry.Deployer, models.ZeroAddress); err != nil {
			return err
		}
	}

	a, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.app = a
	c.d = deploy.Open(a.Store, deployer, deploy.Options{
		Transferer: c.ledger,
		Guard:      a.GuardOptions(),
	})
	log.Debug().Str("backend", c.cfg.Registry.Backend).Msg("Registry CLI ready")
	return nil
}

// caller returns the --as principal, which every mutation needs.
func (c *cli) caller() (models.Address, error) {
	if c.as == "" {
		return models.ZeroAddress, fmt.Errorf("%w: --as is required", models.ErrInvalidInput)
	}
	return models.ParseAddress(c.as)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) ok(op string, fields map[string]any) error {
	out := map[string]any{"result": "ok", "operation": op}
	for k, v := range fields {
		out[k] = v
	}
	return c.print(out)
}

func parseAddressArg(s string) (models.Address, error) {
	return models.ParseAddress(s)
}
