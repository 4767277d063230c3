package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"releasedash/src/config"
	"releasedash/src/logger"
	"releasedash/src/model"
	"releasedash/src/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status matrix over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewConsoleLogger()

		dash, err := setup(configPath, log, false)
		if err != nil {
			return err
		}
		defer dash.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// The tracked pair list follows config reloads; everything else
		// keeps the settings the process started with. An empty tracking
		// section falls back to tag-based discovery.
		var mu sync.Mutex
		pairs, err := dash.pairs(ctx)
		if err != nil {
			return err
		}

		go func() {
			err := config.Watch(ctx, configPath, log, func(cfg *config.Config) {
				next := cfg.Pairs()
				if len(next) == 0 {
					discovered, err := dash.source.DiscoverPairs(ctx)
					if err != nil {
						log.Error("builder discovery failed, keeping previous tracking: %v", err)
						return
					}
					next = discovered
				}
				mu.Lock()
				pairs = next
				mu.Unlock()
			})
			if err != nil {
				log.Error("config watch unavailable: %v", err)
			}
		}()

		snapshot := func(ctx context.Context) (*model.Matrix, error) {
			mu.Lock()
			tracked := pairs
			mu.Unlock()
			return dash.aggregator.Snapshot(ctx, tracked)
		}

		handler := web.NewHandler(snapshot, dash.cfg.PageTTL(), log)
		log.Info("serving dashboard on %s", dash.cfg.Server.Listen)
		return http.ListenAndServe(dash.cfg.Server.Listen, handler.Mux())
	},
}
