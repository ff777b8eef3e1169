package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"macrolog/internal/api/gemini"
	"macrolog/internal/api/google/serviceaccount"
	"macrolog/internal/api/sheets"
	"macrolog/internal/api/usda"
	"macrolog/internal/bot"
	"macrolog/internal/cli"
	"macrolog/internal/config"
	"macrolog/internal/logger"
	"macrolog/internal/meal"
	"macrolog/internal/nutrition"
	"macrolog/internal/request"
	"macrolog/internal/session"
	"macrolog/internal/sheetlog"
	"macrolog/internal/store"
	"macrolog/internal/util/syncx"
	"macrolog/internal/version"
	"macrolog/internal/web"
)

const (
	tgAPI             = "https://api.telegram.org"
	defaultModel      = "gemini-2.5-flash"
	nutritionCacheTTL = 30 * 24 * time.Hour
	logStreamLines    = 300
)

func main() { cli.Main(new(engine)) }

type engine struct {
	init syncx.Lazy[error]

	// initialized by doInit
	bot       *bot.Bot
	cache     store.Store
	logf      logger.Logf
	logStream logger.Streamer
	mux       *http.ServeMux
	profiles  []config.BotProfile
	scrubber  *strings.Replacer
	slog      *slog.Logger

	// configuration, read-only after initialization
	addr          string
	botConfigPath string
	cachePath     string
	geminiKey     string
	geminiModel   string
	host          string
	httpc         *http.Client
	prod          bool
	saJSON        string
	saPath        string
	stderr        io.Writer
	tgSecret      string
	usdaKey       string
	verbose       bool

	noServerStart bool // used in tests
}

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.StringVar(&e.addr, "addr", "", "Listen on `host:port`.")
	fs.StringVar(&e.botConfigPath, "bots", "", "Path to the bot configuration JSON `file`.")
	fs.StringVar(&e.cachePath, "cache", "", "Path to the SQLite nutrition cache `file`. Kept in memory when empty.")
	fs.StringVar(&e.host, "host", "", "Host this service is reachable on, used to register Telegram webhooks.")
	fs.BoolVar(&e.prod, "prod", false, "Run in production mode (register Telegram webhooks on start).")
	fs.BoolVar(&e.verbose, "v", false, "Enable debug logging.")
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	e.addr = cmp.Or(e.addr, env.Getenv("ADDR"), "localhost:3000")
	e.botConfigPath = cmp.Or(e.botConfigPath, env.Getenv("BOT_CONFIG_PATH"))
	e.cachePath = cmp.Or(e.cachePath, env.Getenv("CACHE_PATH"))
	e.geminiKey = cmp.Or(e.geminiKey, env.Getenv("GEMINI_API_KEY"))
	e.geminiModel = cmp.Or(e.geminiModel, env.Getenv("GEMINI_MODEL"), defaultModel)
	e.host = cmp.Or(e.host, env.Getenv("HOST"))
	e.saJSON = cmp.Or(e.saJSON, env.Getenv("SERVICE_ACCOUNT_JSON"))
	e.saPath = cmp.Or(e.saPath, env.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	e.tgSecret = cmp.Or(e.tgSecret, env.Getenv("TG_SECRET"))
	e.usdaKey = cmp.Or(e.usdaKey, env.Getenv("USDA_API_KEY"))

	e.stderr = env.Stderr

	if len(env.Args) > 0 {
		return fmt.Errorf("%w: macrolog takes no arguments", cli.ErrInvalidArgs)
	}

	if err := e.init.Get(func() error {
		return e.doInit(ctx)
	}); err != nil {
		return err
	}

	// Used in tests.
	if e.noServerStart {
		return nil
	}

	if e.prod {
		if err := e.setWebhooks(ctx); err != nil {
			return err
		}
		e.logf("Running in production mode.")
	} else {
		e.logf("Running in development mode.")
	}

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr: e.addr,
		Mux:  e.mux,
		Logf: e.logf,
	})
}

func (e *engine) doInit(ctx context.Context) error {
	switch {
	case e.botConfigPath == "":
		return errors.New("bot config path isn't set; pass it with -bots flag or BOT_CONFIG_PATH environment variable")
	case e.geminiKey == "":
		return errors.New("GEMINI_API_KEY environment variable isn't set")
	case e.usdaKey == "":
		return errors.New("USDA_API_KEY environment variable isn't set")
	case e.tgSecret == "":
		return errors.New("TG_SECRET environment variable isn't set")
	case e.saJSON == "" && e.saPath == "":
		return errors.New("service account key isn't set; pass it with SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS environment variable")
	}

	botConfig, err := os.ReadFile(e.botConfigPath)
	if err != nil {
		return fmt.Errorf("reading bot config: %w", err)
	}
	e.profiles, err = config.Load(botConfig)
	if err != nil {
		return err
	}

	saJSON := []byte(e.saJSON)
	if len(saJSON) == 0 {
		saJSON, err = os.ReadFile(e.saPath)
		if err != nil {
			return fmt.Errorf("reading service account key: %w", err)
		}
	}
	key, err := serviceaccount.LoadKey(saJSON)
	if err != nil {
		return fmt.Errorf("parsing service account key: %w", err)
	}

	// Mask secrets in logs and error messages.
	scrubPairs := []string{
		e.geminiKey, "[EDITED]",
		e.usdaKey, "[EDITED]",
		e.tgSecret, "[EDITED]",
	}
	for _, p := range e.profiles {
		scrubPairs = append(scrubPairs, p.Token, "[EDITED]")
	}
	e.scrubber = strings.NewReplacer(scrubPairs...)

	e.logStream = logger.NewStreamer(logStreamLines)
	logw := io.MultiWriter(e.stderr, e.logStream)
	e.logf = log.New(logw, "", log.LstdFlags).Printf

	level := slog.LevelInfo
	if e.verbose {
		level = slog.LevelDebug
	}
	e.slog = slog.New(slog.NewTextHandler(logw, &slog.HandlerOptions{Level: level}))

	if e.httpc == nil {
		e.httpc = request.DefaultClient
	}

	if e.cachePath != "" {
		e.cache, err = store.NewSQLiteStore(ctx, e.cachePath, nutritionCacheTTL)
		if err != nil {
			return fmt.Errorf("opening nutrition cache: %w", err)
		}
	} else {
		e.cache = store.NewMemStore(ctx, nutritionCacheTTL)
	}

	geminic := &gemini.Client{
		APIKey:     e.geminiKey,
		Model:      e.geminiModel,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
	}
	resolver := &nutrition.Resolver{
		Provider: nutrition.USDAProvider{Client: &usda.Client{
			APIKey:     e.usdaKey,
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		}},
		Estimator: geminic,
		Cache:     e.cache,
		Logf:      e.logf,
	}

	e.bot = &bot.Bot{
		Profiles:      e.profiles,
		WebhookSecret: e.tgSecret,
		Interpreter:   &meal.Interpreter{Generator: geminic},
		Aggregator:    &nutrition.Aggregator{Resolver: resolver},
		Store: &sheetlog.Store{
			Sheets: &sheets.Client{
				Key:        key,
				HTTPClient: e.httpc,
				Scrubber:   e.scrubber,
			},
			Logf: e.logf,
		},
		Sessions:   session.NewManager(session.DefaultTimeout),
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
		Logf:       e.logf,
		SLog:       e.slog,
	}

	e.mux = http.NewServeMux()
	e.mux.HandleFunc("POST /telegram/{token}", e.bot.HandleWebhook)
	e.mux.Handle("GET /debug/log", e.logStream)

	return nil
}

// setWebhooks points Telegram at this service for every configured bot.
func (e *engine) setWebhooks(ctx context.Context) error {
	if e.host == "" {
		return errors.New("host isn't set; pass it with -host flag or HOST environment variable")
	}
	for _, p := range e.profiles {
		u := &url.URL{
			Scheme: "https",
			Host:   e.host,
			Path:   "/telegram/" + p.Token,
		}
		_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
			Method: http.MethodPost,
			URL:    tgAPI + "/bot" + p.Token + "/setWebhook",
			Body: map[string]string{
				"url":          u.String(),
				"secret_token": e.tgSecret,
			},
			Headers: map[string]string{
				"User-Agent": version.UserAgent(),
			},
			HTTPClient: e.httpc,
			Scrubber:   e.scrubber,
		})
		if err != nil {
			return fmt.Errorf("setting webhook for %s: %w", p.Name, err)
		}
		e.logf("Registered webhook for %s.", p.Name)
	}
	return nil
}
