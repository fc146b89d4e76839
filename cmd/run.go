package cmd

import (
	"errors"
	"net"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/net-reflow/reflow/internal/clierr"
	"github.com/net-reflow/reflow/internal/dnsforward"
	"github.com/net-reflow/reflow/internal/relay"
	"github.com/net-reflow/reflow/internal/ruleconf"
	"github.com/net-reflow/reflow/internal/version"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the config directory and start every configured relay and DNS forwarder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := zerolog.Ctx(ctx)

			log.Info().
				Str("version", version.GetVersion()).
				Str("build_time", version.GetBuildTime()).
				Msg("reflow starting")

			compiled, err := loadConfig(cfgDir)
			if err != nil {
				return err
			}

			log.Info().
				Str("config", cfgDir).
				Int("relays", len(compiled.Relays)).
				Bool("dns", compiled.DNS != nil).
				Msg("config loaded")

			g, ctx := errgroup.WithContext(ctx)

			for _, relayCfg := range compiled.Relays {
				relayCfg := relayCfg

				ln, err := net.Listen("tcp", relayCfg.Listen)
				if err != nil {
					return clierr.SetupFailed(err)
				}

				r := relay.New(relayCfg, compiled.DomainMatcher, compiled.IPMatcher, compiled.DNS,
					log.With().Str("listen", relayCfg.Listen).Logger())

				g.Go(func() error {
					return r.Serve(ctx, ln)
				})
			}

			if compiled.DNS != nil {
				fwd := dnsforward.New(compiled.DNS, compiled.DomainMatcher, log.With().Str("component", "dnsforward").Logger())

				g.Go(func() error {
					return fwd.Serve(ctx)
				})
			}

			g.Go(func() error {
				<-ctx.Done()
				return nil
			})

			if err := g.Wait(); err != nil {
				return clierr.SetupFailed(err)
			}

			return nil
		},
	}

	return cmd
}

// loadConfig wraps ruleconf.Load, translating its failures into the
// exit codes the external interface promises: a missing or unreadable
// config directory is ExitConfigInvalid, any other failure (grammar,
// dangling reference, zone parse error) is ExitParseFailed.
func loadConfig(dir string) (*ruleconf.Compiled, error) {
	compiled, err := ruleconf.Load(dir)
	if err != nil {
		if errors.Is(err, ruleconf.ErrConfigDir) {
			return nil, clierr.ConfigInvalid(err)
		}

		return nil, clierr.ParseFailed(err)
	}

	return compiled, nil
}
