// Package server wires the volunteerhub server together: storage, sessions,
// accounts, the request gate and its HTTP and gRPC transports.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/api"
	"github.com/dmitrijs2005/volunteerhub/internal/server/auth"
	"github.com/dmitrijs2005/volunteerhub/internal/server/captcha"
	"github.com/dmitrijs2005/volunteerhub/internal/server/config"
	"github.com/dmitrijs2005/volunteerhub/internal/server/datastore"
	"github.com/dmitrijs2005/volunteerhub/internal/server/gate"
	"github.com/dmitrijs2005/volunteerhub/internal/server/httpapi"
	"github.com/dmitrijs2005/volunteerhub/internal/server/metrics"
	"github.com/dmitrijs2005/volunteerhub/internal/server/sessions"
	"github.com/dmitrijs2005/volunteerhub/internal/server/users"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/volunteerhub/internal/server/grpc"
)

// bindingsPruneInterval is how often bindings of expired Redis sessions are
// swept.
const bindingsPruneInterval = time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    *datastore.SQLStore
	sessions *sessions.Manager
	users    *users.Service
	gate     *gate.Gate
	metrics  *metrics.Metrics
}

// NewApp builds every component from c. Resources opened before a failure
// are released before returning.
func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: c.LogLevel, JSON: c.LogJSON, File: c.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app = &App{config: c, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.store, err = datastore.Open(ctx, c.DBDriver, c.DatabaseDSN, datastore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	bindings := gate.NewBindings()

	store, err := app.newSessionStore(ctx, bindings)
	if err != nil {
		return nil, fmt.Errorf("session store init error: %w", err)
	}
	app.sessions = sessions.NewManager(store, logger)

	hasher, err := auth.NewHasher(c.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hasher init error: %w", err)
	}

	var verifier captcha.Verifier
	if c.CaptchaRequired {
		verifier = captcha.NewTurnstile(c.CaptchaSecret,
			captcha.WithURL(c.CaptchaURL),
			captcha.WithTimeout(c.CaptchaTimeout))
	}

	app.users = users.NewService(
		users.NewStoreRepository(app.store),
		hasher,
		verifier,
		users.Config{SecretKey: []byte(c.SecretKey), TokenTTL: c.TokenTTL},
		logger,
	)

	if err := app.users.EnsureAdmin(ctx, c.AdminID, c.AdminPassword, api.PermissionAdmin); err != nil {
		return nil, fmt.Errorf("admin account init error: %w", err)
	}

	app.gate = gate.New(app.sessions, app.users, logger,
		gate.WithBindings(bindings),
		gate.WithObserver(app.metrics),
		gate.WithSecureTransport(c.SecureTransport))
	app.gate.Register(api.AuthEndpoints(app.users)...)

	app.metrics.TrackGauge("sessions_open", "Sessions currently held by the session store", func() float64 {
		n, err := app.sessions.Count(context.Background())
		if err != nil {
			return -1
		}
		return float64(n)
	})
	app.metrics.TrackGauge("sessions_signed_in", "Sessions bound to a signed-in user", func() float64 {
		return float64(app.gate.Bindings().Len())
	})

	return app, nil
}

func (app *App) newSessionStore(ctx context.Context, bindings *gate.Bindings) (sessions.Store, error) {
	switch app.config.SessionStore {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("%w: %w", sessions.ErrRedisUnavailable, err)
		}
		return sessions.NewRedisStore(rdb, "", app.config.SessionIdleTTL), nil
	default:
		return sessions.NewMemoryStore(app.config.SessionCapacity, app.config.SessionIdleTTL,
			sessions.WithGoneHook(bindings.Unbind)), nil
	}
}

// Close releases the session store and the database.
func (app *App) Close() {
	var errs []error
	if app.sessions != nil {
		errs = append(errs, app.sessions.Close())
	}
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Error(context.Background(), "error releasing resources", "error", err)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := httpapi.New(app.gate, app.logger, httpapi.Options{
		IPMaxPerMin: app.config.IPMaxPerMin,
		Banned:      app.config.BannedIP,
		Metrics:     app.metrics.Handler(),
		Rejections:  app.metrics,
	})

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx, app.config.HTTPAddr); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewServer(app.config.GRPCAddr, app.logger, app.gate)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) pruneBindings(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.gate.PruneBindings(ctx); n > 0 {
				app.logger.Debug(ctx, "pruned stale bindings", "count", n)
			}
		}
	}
}

// Run serves until ctx is cancelled or a signal arrives, then releases
// resources.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "endpoints", app.gate.Endpoints(), "secure", app.config.SecureTransport)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.pruneBindings(ctx, bindingsPruneInterval)
	}()

	if app.config.HTTPAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHTTPServer(ctx, cancelFunc)
		}()
	}

	if app.config.GRPCAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}
