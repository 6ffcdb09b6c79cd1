//    Copyright 2026 The Periferia Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package server

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/periferia-io/periferia/model"
)

type Server interface {
	// Run the HTTP server until the given context is cancelled.
	Run(ctx context.Context) error
}

// Service provides the data served by the status endpoint.
type Service interface {
	// Status returns the current daemon status.
	Status() Status
}

// Status of the daemon as reported on /status.
type Status struct {
	Version     string             `json:"version"`
	StartedAt   time.Time          `json:"started_at"`
	Uptime      string             `json:"uptime,omitempty"`
	Peripherals []PeripheralStatus `json:"peripherals"`
}

// PeripheralStatus of a single open handle.
type PeripheralStatus struct {
	ID   string               `json:"id"`
	Type model.PeripheralType `json:"type"`
	Busy bool                 `json:"busy"`
}

type Config struct {
	Host string
	Port int
}

// NewServer creates a new server
func NewServer(conf Config, api Service, log zerolog.Logger) (Server, error) {
	return &server{
		Config: conf,
		log:    log.With().Str("component", "server").Logger(),
		api:    api,
	}, nil
}

type server struct {
	Config
	log zerolog.Logger
	api Service
}

// newEcho builds the route table.
func (s *server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/status", func(c echo.Context) error {
		status := s.api.Status()
		status.Uptime = humanize.Time(status.StartedAt)
		return c.JSON(http.StatusOK, status)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/debug/pprof/", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	e.GET("/debug/pprof/cmdline", echo.WrapHandler(http.HandlerFunc(pprof.Cmdline)))
	e.GET("/debug/pprof/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
	e.GET("/debug/pprof/symbol", echo.WrapHandler(http.HandlerFunc(pprof.Symbol)))
	e.GET("/debug/pprof/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))
	e.GET("/debug/pprof/:profile", func(c echo.Context) error {
		h := pprof.Handler(c.Param("profile"))
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	})
	return e
}

// Run the HTTP server until the given context is cancelled.
func (s *server) Run(ctx context.Context) error {
	e := s.newEcho()
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	s.log.Info().Str("address", addr).Msg("Serving HTTP")

	g, nctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Warn().Err(err).Msg("Failed to serve HTTP")
			return maskAny(err)
		}
		return nil
	})
	g.Go(func() error {
		<-nctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		return maskAny(err)
	}
	return nil
}
