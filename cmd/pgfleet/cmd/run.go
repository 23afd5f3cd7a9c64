// Copyright 2025 PGFleet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgfleet/pgfleet/internal/common"
	pg "github.com/pgfleet/pgfleet/internal/postgresql"
	"github.com/pgfleet/pgfleet/internal/util"
)

// parameters a running server cannot pick up with a reload
var restartParameters = []string{
	"listen_addresses",
	"port",
	"max_wal_senders",
	"max_replication_slots",
	"wal_level",
	"hot_standby",
}

var cmdRun = &cobra.Command{
	Use:   "run",
	Run:   runCommand,
	Short: "Supervise the postgres instance, keeping it running with the managed settings applied",
}

var runOpts struct {
	sleepInterval time.Duration
}

func init() {
	cmdRun.PersistentFlags().DurationVar(&runOpts.sleepInterval, "sleep-interval", 5*time.Second, "interval between supervision loop iterations")

	CmdPgfleet.AddCommand(cmdRun)
}

// supervisor keeps a single instance initialized, configured and running.
type supervisor struct {
	pgm           *pg.Manager
	sleepInterval time.Duration

	end chan error
}

func (s *supervisor) Start(ctx context.Context) {
	endCheckCh := make(chan struct{})

	timerCh := time.NewTimer(0).C
	for {
		select {
		case <-ctx.Done():
			log.Infow("stopping pgfleet supervisor")
			shutdownSeconds.Set(float64(time.Now().Unix()))
			if running, _ := s.pgm.IsRunning(); running {
				if err := s.pgm.Stop(); err != nil {
					log.Errorw("failed to stop pg instance", zap.Error(err))
				}
			}
			s.end <- nil
			return

		case <-timerCh:
			go func() {
				s.check(ctx)
				endCheckCh <- struct{}{}
			}()

		case <-endCheckCh:
			timerCh = time.NewTimer(s.sleepInterval).C
		}
	}
}

// check is one supervision iteration: initialize the data directory if
// needed, converge the managed settings and make sure postgres is up.
func (s *supervisor) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	initialized, err := s.pgm.Setup().IsInitialized()
	if err != nil {
		log.Errorw("cannot check the data directory", zap.Error(err))
		checkErrorsTotal.Inc()
		return
	}
	if !initialized {
		log.Infow("data directory not initialized, initializing", "dataDir", s.pgm.Setup().DataDir)
		if err := s.pgm.InitDB(); err != nil {
			log.Errorw("failed to initialize the data directory", zap.Error(err))
			checkErrorsTotal.Inc()
			return
		}
	}

	prevParams := pg.SettingsParameters(s.pgm.CurSettings(), s.pgm.Setup())
	wrote, err := s.pgm.EnsureDefaultSettings(pg.DefaultSettings)
	if err != nil {
		log.Errorw("failed to write managed settings", zap.Error(err))
		checkErrorsTotal.Inc()
		return
	}

	running, err := s.pgm.IsRunning()
	if err != nil {
		log.Errorw("cannot get instance status", zap.Error(err))
		checkErrorsTotal.Inc()
		return
	}

	if !running {
		log.Infow("postgres not running, starting it")
		if err := s.pgm.Start(); err != nil {
			log.Errorw("failed to start postgres", zap.Error(err))
			checkErrorsTotal.Inc()
			instanceUpGauge.Set(0)
			return
		}
		instanceStartsTotal.Inc()
	} else if wrote {
		newParams := pg.SettingsParameters(s.pgm.CurSettings(), s.pgm.Setup())
		changed := prevParams.Diff(newParams)

		needsRestart := false
		for _, name := range changed {
			if util.StringInSlice(restartParameters, name) {
				needsRestart = true
			}
		}

		switch {
		case needsRestart:
			log.Infow("managed settings changed, restarting", "changed", changed)
			if err := s.pgm.Restart(); err != nil {
				log.Errorw("failed to restart postgres", zap.Error(err))
				checkErrorsTotal.Inc()
				return
			}
			instanceRestartsTotal.Inc()
		case len(changed) > 0:
			log.Infow("managed settings changed, reloading", "changed", changed)
			if err := s.pgm.Reload(); err != nil {
				log.Errorw("failed to reload postgres configuration", zap.Error(err))
				checkErrorsTotal.Inc()
				return
			}
			configReloadsTotal.Inc()
		}
	}

	if err := s.pgm.Ping(); err != nil {
		log.Warnw("postgres not answering sql probes yet", zap.Error(err))
		instanceUpGauge.Set(0)
		return
	}
	instanceUpGauge.Set(1)
	lastCheckSuccessSeconds.Set(float64(time.Now().Unix()))
}

func sigHandler(sigs chan os.Signal, cancel context.CancelFunc) {
	s := <-sigs
	log.Debugw("got signal", "signal", s)
	cancel()
}

func runCommand(c *cobra.Command, args []string) {
	pgm := newManager()

	ctx, cancel := context.WithCancel(context.Background())
	end := make(chan error)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go sigHandler(sigs, cancel)

	if cfg.MetricsListenAddress != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddress, nil); err != nil {
				log.Errorw("metrics http server error", zap.Error(err))
				cancel()
			}
		}()
	}

	s := &supervisor{
		pgm:           pgm,
		sleepInterval: runOpts.sleepInterval,
		end:           end,
	}
	log.Infow("starting pgfleet supervisor", "uid", common.UID(), "dataDir", pgm.Setup().DataDir)
	go s.Start(ctx)

	<-end
}
