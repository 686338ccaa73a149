package cmds

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/inference/session"
	"github.com/go-go-golems/forkchat/pkg/loader"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/forkchat/pkg/persistence/httpstore"
	"github.com/go-go-golems/forkchat/pkg/persistence/sqlstore"
	"github.com/go-go-golems/forkchat/pkg/transport"
	"github.com/go-go-golems/forkchat/pkg/transport/echo"
	"github.com/go-go-golems/forkchat/pkg/transport/langchain"
	"github.com/go-go-golems/forkchat/pkg/transport/openai"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SettingsFunc returns the settings resolved by the root command.
type SettingsFunc func() *config.Settings

// App holds the stores shared by the interactive commands.
type App struct {
	Settings *config.Settings
	Cache    persistence.Cache
	Remote   persistence.RemoteStore

	closers []func() error
}

func OpenApp(s *config.Settings) (*App, error) {
	app := &App{Settings: s}

	cache, err := OpenCache(s)
	if err != nil {
		return nil, err
	}
	app.Cache = cache
	app.closers = append(app.closers, cache.Close)

	remote, closeRemote, err := OpenRemote(s)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Remote = remote
	if closeRemote != nil {
		app.closers = append(app.closers, closeRemote)
	}

	return app, nil
}

func (a *App) Close() error {
	var ret error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && ret == nil {
			ret = err
		}
	}
	a.closers = nil
	return ret
}

func (a *App) Adapter() *persistence.Adapter {
	return persistence.NewAdapter(a.Cache, a.Settings.Chat.Session)
}

// NewController builds a controller with the configured timing, category and
// stores. opts are applied last.
func (a *App) NewController(t transport.Transport, opts ...chat.Option) (*chat.Controller, error) {
	s := a.Settings
	base := []chat.Option{
		chat.WithAdapter(a.Adapter()),
		chat.WithCategory(s.Chat.Category),
		chat.WithSystemPrompt(s.Chat.SystemPrompt),
		chat.WithLoaderOptions(
			loader.WithShowDelay(s.Timing.LoaderShowDelay),
			loader.WithMinVisible(s.Timing.LoaderMinVisible),
		),
		chat.WithSessionOptions(session.WithModel(s.Transport.Model)),
	}
	if a.Remote != nil {
		base = append(base, chat.WithRemote(a.Remote, s.Timing.AutosaveDelay))
	}
	return chat.New(t, append(base, opts...)...)
}

// OpenCache opens the pebble cache under Cache.Dir, or an in-memory cache.
func OpenCache(s *config.Settings) (persistence.Cache, error) {
	if s.Cache.Dir == "" {
		log.Debug().Msg("Using in-memory cache")
		return persistence.NewMemoryCache(), nil
	}
	c, err := persistence.OpenPebbleCache(s.Cache.Dir)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("dir", s.Cache.Dir).Msg("Opened pebble cache")
	return c, nil
}

// OpenRemote returns nil when no remote store is configured. The returned
// close function may be nil.
func OpenRemote(s *config.Settings) (persistence.RemoteStore, func() error, error) {
	switch s.Remote.Kind {
	case "", "none":
		return nil, nil, nil
	case "sqlite":
		if s.Remote.DSN == "" {
			return nil, nil, errors.New("remote.dsn is required for the sqlite remote")
		}
		store, err := sqlstore.Open(s.Remote.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "http":
		if s.Remote.URL == "" {
			return nil, nil, errors.New("remote.url is required for the http remote")
		}
		return httpstore.New(s.Remote.URL), nil, nil
	default:
		return nil, nil, errors.Errorf("unknown remote kind %q", s.Remote.Kind)
	}
}

func NewTransport(s *config.Settings) (transport.Transport, error) {
	t := s.Transport
	switch t.Kind {
	case "openai":
		if t.APIKey == "" {
			return nil, errors.New("transport.api-key is required for the openai transport")
		}
		return openai.New(t.APIKey, t.BaseURL, t.Model), nil
	case "ollama":
		return langchain.NewOllama(t.BaseURL, t.Model)
	case "echo", "":
		return echo.New(), nil
	default:
		return nil, errors.Errorf("unknown transport kind %q", t.Kind)
	}
}

// ServeMetrics serves session metrics on addr until ctx is done. It returns
// nil when addr is empty.
func ServeMetrics(ctx context.Context, addr string) *session.Metrics {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	m := session.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Debug().Str("addr", addr).Msg("Serving session metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return m
}
