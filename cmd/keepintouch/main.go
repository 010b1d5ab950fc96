package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/tartampluch/go-keepintouch/internal/calendar"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
	"github.com/tartampluch/go-keepintouch/internal/importer"
	"github.com/tartampluch/go-keepintouch/internal/locale"
	"github.com/tartampluch/go-keepintouch/internal/lock"
	"github.com/tartampluch/go-keepintouch/internal/server"
	"github.com/tartampluch/go-keepintouch/internal/store/memory"
	"github.com/tartampluch/go-keepintouch/internal/store/postgres"
	"github.com/tartampluch/go-keepintouch/internal/worker"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// main delegates to runMain so deferred calls run before os.Exit.
func main() {
	os.Exit(runMain())
}

func runMain() int {
	showVersion := flag.Bool(config.FlagVersion, false, config.FlagDescVersion)
	debugMode := flag.Bool(config.FlagDebug, false, config.FlagDescDebug)
	settingsPath := flag.String(config.FlagConfig, "", config.FlagDescConfig)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), config.MsgUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		printVersion()
		return config.ExitCodeSuccess
	}

	command := config.CmdServe
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	logCloser := setupLogging(*debugMode)
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logStartupInfo(command)

	if err := run(ctx, command, *settingsPath); err != nil {
		slog.Error(config.ErrAppFailed,
			config.LogKeyComponent, config.CompMain,
			config.LogKeyCommand, command,
			config.LogKeyError, err,
		)
		if errors.Is(err, errUnknownCommand) {
			flag.Usage()
			return config.ExitCodeUsage
		}
		return config.ExitCodeError
	}

	slog.Info(config.MsgAppStop, config.LogKeyComponent, config.CompMain)
	return config.ExitCodeSuccess
}

var errUnknownCommand = errors.New(config.ErrUnknownCommand)

// app holds the wired dependencies shared by every command.
type app struct {
	settings   config.Settings
	store      engine.Store
	reconciler *engine.Reconciler
	handler    *engine.Handler
	importer   *importer.Importer
	messages   *locale.Messages
	closers    []io.Closer
}

func run(ctx context.Context, command, settingsPath string) error {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	a, err := wire(ctx, settings)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case config.CmdServe:
		return a.serve(ctx)
	case config.CmdGenerate:
		res, err := a.reconciler.GenerateUpcomingReminders(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	case config.CmdRefresh:
		res, err := a.reconciler.RefreshAllReminders(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	case config.CmdImport:
		if a.importer == nil {
			return errors.New(config.ErrImporterMissing)
		}
		res, err := a.importer.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, command)
	}
}

func wire(ctx context.Context, s config.Settings) (*app, error) {
	a := &app{settings: s}

	catalog, err := locale.Load()
	if err != nil {
		return nil, err
	}
	a.messages = catalog.Messages(s.Language)

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.reconciler = &engine.Reconciler{
		Store:    a.store,
		Locker:   locker,
		Clock:    engine.RealClock{},
		Messages: a.messages,
	}
	a.handler = engine.NewHandler(a.reconciler)

	if s.Import.Mode != "" {
		a.importer = &importer.Importer{
			Store:            a.store,
			Fetcher:          importer.NewHTTPFetcher(),
			Clock:            engine.RealClock{},
			Source:           importer.SourceFromSettings(s.Import),
			DefaultFrequency: engine.Frequency(s.Import.DefaultFrequency),
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	log := slog.With(config.LogKeyComponent, config.CompStore)
	if a.settings.Database.URL == "" {
		log.Info(config.MsgStoreMemory)
		a.store = memory.New()
		return nil
	}

	dsn, err := postgres.DSNWithPassword(a.settings.Database.URL, a.settings.Database.Password)
	if err != nil {
		return err
	}
	pg, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pg)
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	a.store = pg
	return nil
}

func (a *app) openLocker(ctx context.Context) (engine.Locker, error) {
	if a.settings.Redis.URL == "" {
		return lock.NewLocal(), nil
	}

	client, err := lock.Dial(ctx, a.settings.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client)

	l := lock.NewRedis(client)
	if a.settings.Redis.LockTTL > 0 {
		l.TTL = a.settings.Redis.LockTTL
	}
	slog.Info(config.MsgLockRedis, config.LogKeyComponent, config.CompLock)
	return l, nil
}

// serve runs the HTTP server and the sweep worker until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := server.New(a.settings.Server.Addr, a.reconciler, a.handler)
	srv.DefaultDays = a.settings.Sweep.UpcomingDays
	if a.importer != nil {
		srv.Importer = a.importer
	}

	wk := worker.New(a.reconciler, calendar.Builder{Name: a.messages.CalendarName()}, srv.Update)
	wk.Interval = a.settings.Sweep.Interval
	wk.Days = a.settings.Sweep.UpcomingDays
	srv.Changed = wk.Trigger

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error { return wk.Run(ctx) })
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVersion() {
	fmt.Printf(config.MsgVersionOutput,
		config.AppName,
		config.Version,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

// logStartupInfo logs environment details useful for debugging.
func logStartupInfo(command string) {
	slog.Info(config.MsgAppStarting,
		config.LogKeyComponent, config.CompMain,
		config.LogKeyCommand, command,
		slog.Group(config.LogKeyBuild,
			slog.String(config.LogKeyApp, config.AppName),
			slog.String(config.LogKeyVersion, config.Version),
			slog.String(config.LogKeyGoVer, runtime.Version()),
		),
		slog.Group(config.LogKeyEnv,
			slog.String(config.LogKeyOS, runtime.GOOS),
			slog.String(config.LogKeyArch, runtime.GOARCH),
			slog.Int(config.LogKeyPID, os.Getpid()),
		),
	)
}

// setupLogging configures the default slog logger: JSON to stdout and to a log
// file in the user cache directory when one can be created.
func setupLogging(debugMode bool) io.Closer {
	writers := []io.Writer{os.Stdout}
	var logFile *os.File

	if logPath, err := getLogFilePath(); err == nil {
		// O_TRUNC resets logs on restart to prevent indefinite growth.
		f, err := os.OpenFile(logPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, config.FilePermUserRW)
		if err == nil {
			writers = append(writers, f)
			logFile = f
		} else {
			fmt.Fprintf(os.Stderr, config.MsgLogWarning, config.ErrLogFile, logPath, err)
		}
	}

	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:     level,
		AddSource: debugMode,
	}))
	slog.SetDefault(logger)

	if logFile == nil {
		return nil
	}
	return logFile
}

func getLogFilePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrCacheDir, err)
	}

	appDir := filepath.Join(cacheDir, config.AppID)
	if err := os.MkdirAll(appDir, config.DirPermUserRWX); err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrCreateDir, err)
	}
	return filepath.Join(appDir, config.LogFileName), nil
}
