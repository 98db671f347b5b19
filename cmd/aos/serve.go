package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartcomputer-ai/agentos/controlsocket"
	"github.com/smartcomputer-ai/agentos/httpface"
)

// tickInterval paces the background tick loop that advances the kernel's
// logical clock between control-surface calls (timers, retry backoff,
// plan steps becoming ready). Real deployments usually also call `tick`
// explicitly over the control surface after submitting an event; this
// loop just keeps time moving for in-kernel timers.
const tickInterval = 100 * time.Millisecond

func runServe(cmd *cobra.Command, args []string) {
	log := logrus.NewEntry(logrus.New())
	cfg := configFromViper()

	inst, err := bootstrap(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("aos: bootstrap failed")
	}
	defer inst.Close()

	var signingKey []byte
	var auth *controlsocket.TokenService
	if cfg.JWTSecret != "" {
		signingKey = []byte(cfg.JWTSecret)
		auth = controlsocket.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	} else {
		log.Warn("aos: jwt-secret not set, control surface is unauthenticated")
	}

	wsServer := controlsocket.NewServer(inst.Kernel, auth, log)
	wsHTTP := &http.Server{Addr: cfg.ControlSocketAddr, Handler: wsServer}

	h := httpface.NewHandlers(inst.Kernel, log)
	restHTTP := &http.Server{Addr: cfg.HTTPFaceAddr, Handler: httpface.NewEcho(h, signingKey)}

	tickCtx, cancelTick := context.WithCancel(context.Background())
	go runTickLoop(tickCtx, inst, log)

	go func() {
		log.Infof("aos: control socket listening on %s", cfg.ControlSocketAddr)
		if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("aos: control socket failed")
		}
	}()
	go func() {
		log.Infof("aos: httpface listening on %s", cfg.HTTPFaceAddr)
		if err := restHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("aos: httpface failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("aos: shutting down")
	cancelTick()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsHTTP.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("aos: control socket shutdown error")
	}
	if err := restHTTP.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("aos: httpface shutdown error")
	}
}

// runTickLoop calls Tick on a fixed cadence until ctx is cancelled,
// advancing timers and ready plan steps independent of any particular
// control-surface caller.
func runTickLoop(ctx context.Context, inst *instance, log *logrus.Entry) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if _, err := inst.Kernel.Tick(t.UnixNano()); err != nil {
				log.WithError(err).Warn("aos: tick failed")
			}
		}
	}
}
