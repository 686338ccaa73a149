package cmds

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/forkchat/pkg/persistence/sqlstore"
	"github.com/go-go-golems/forkchat/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultServeDB = "forkchat.db"

func NewServeCommand(settings SettingsFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations from a sqlite database over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			db, _ := cmd.Flags().GetString("db")
			if db == "" {
				db = s.Remote.DSN
			}
			if db == "" {
				db = defaultServeDB
			}

			store, err := sqlstore.Open(db)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("Could not close database")
				}
			}()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srv := server.New(store,
				server.WithRateLimit(s.Server.RateRPS, s.Server.RateBurst),
				server.WithRegistry(reg),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().Str("db", db).Msg("Opened conversation database")
			err = srv.ListenAndServe(ctx, s.Server.Listen)
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("db", "", "sqlite database (default: remote.dsn, then "+defaultServeDB+")")
	return cmd
}
