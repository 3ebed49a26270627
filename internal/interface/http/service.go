package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arkade-os/fee-distributor/internal/config"
	"github.com/arkade-os/fee-distributor/internal/core/application"
	interfaces "github.com/arkade-os/fee-distributor/internal/interface"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

type service struct {
	config    Config
	appConfig *config.Config
	server    *http.Server
	appSvc    application.Service
	ready     *readiness
}

func NewService(svcConfig Config, appConfig *config.Config) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	return &service{
		config:    svcConfig,
		appConfig: appConfig,
		ready:     &readiness{},
	}, nil
}

func (s *service) Start() error {
	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return err
	}
	if err := appSvc.Start(); err != nil {
		return fmt.Errorf("failed to start app service: %s", err)
	}
	s.appSvc = appSvc
	log.Info("started app service")

	lis, err := net.Listen("tcp", s.config.address())
	if err != nil {
		appSvc.Stop()
		return fmt.Errorf("failed to listen at %s: %s", s.config.address(), err)
	}

	h := newHandler(appSvc, s.appConfig.AdminService(), s.config.heartbeat())
	s.server = &http.Server{
		Handler:           newRouter(h, newAuthenticator(s.config), s.ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server.RegisterOnShutdown(h.close)

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()
	s.ready.markStarted()

	log.Infof("started listening at %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	s.ready.markStopped()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to gracefully shutdown http server")
		}
		log.Info("stopped http server")
	}

	if s.appSvc != nil {
		s.appSvc.Stop()
		log.Info("stopped app service")
	}
	log.Info("shutdown service")
}
