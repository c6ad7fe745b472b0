package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/component/archive"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	metricsAdapter "github.com/tigerroll/caseflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// HandlerParams are the dependencies of NewHandlerFromParams.
type HandlerParams struct {
	fx.In
	Operator usecase.ProcessOperator
	Explorer usecase.ProcessExplorer
	Engine   *verification.Engine
	Watchdog *verification.Watchdog
	Archive  *archive.PayloadArchive `optional:"true"`
}

// NewHandlerFromParams builds the Handler from the application services.
func NewHandlerFromParams(p HandlerParams) *Handler {
	var lister ArchiveLister
	if p.Archive != nil {
		lister = p.Archive
	}
	return NewHandler(p.Operator, p.Explorer, p.Engine, p.Watchdog, lister)
}

// NewServer builds the HTTP server for http.address.
func NewServer(h *Handler, exp metricsAdapter.Exposition, cfg *config.Config) *http.Server {
	hc := cfg.Caseflow.HTTP
	if hc.Mode != "" {
		gin.SetMode(hc.Mode)
	}
	return &http.Server{
		Addr:              hc.Address,
		Handler:           NewRouter(h, exp.Handler),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// RunServer binds the listener on start and drains connections on stop.
func RunServer(lc fx.Lifecycle, srv *http.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Infof("HTTP API listening on %s.", ln.Addr())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server stopped: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Shutting down HTTP API.")
			return srv.Shutdown(ctx)
		},
	})
}

// Module provides the handler and server and runs it with the application.
var Module = fx.Options(
	fx.Provide(NewHandlerFromParams, NewServer),
	fx.Invoke(RunServer),
)
