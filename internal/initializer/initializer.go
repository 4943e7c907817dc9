package initializer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/milkywaybrain/tickvault/internal/config"
	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/milkywaybrain/tickvault/internal/exchange"
	"github.com/milkywaybrain/tickvault/internal/metrics"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/milkywaybrain/tickvault/internal/ticket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/sync/errgroup"
)

// Start will initialize various required systems and then execute the app.
func Start(mainCtx context.Context, cfg *config.Config) error {
	logFile, err := setupLogger(&cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		log.Error().Msg("exiting the app")
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	mirrors, err := initMirrors(cfg)
	if err != nil {
		log.Error().Stack().Err(errors.WithStack(err)).Msg("")
		return err
	}

	deps := &exchange.Deps{
		REST:    connector.InitREST(&cfg.Connection.REST),
		Tickets: ticket.NewRegistry(),
		Storage: &cfg.Storage,
		Mirrors: mirrors,
	}
	defer deps.Tickets.Close()

	// Start each market watcher. If any of them fails after retry, force all the other ones to stop and
	// exit the app.
	appErrGroup, appCtx := errgroup.WithContext(mainCtx)

	metrics.InitMetrics()
	if cfg.Metrics.ListenAddr != "" {
		appErrGroup.Go(func() error {
			return metrics.Serve(appCtx, cfg.Metrics.ListenAddr)
		})
	}

	for i := range cfg.Exchanges {
		exch := &cfg.Exchanges[i]
		for j := range exch.Markets {
			market := &exch.Markets[j]
			appErrGroup.Go(func() error {
				return exchange.StartMarket(appCtx, exch, market, deps)
			})
		}
	}
	log.Error().Msg("start app")

	return appErrGroup.Wait()
}

// setupLogger points the global logger at the configured file.
// If the path ends with .log then log messages are appended to it. Otherwise, a new log file with a timestamp
// attached to its name is created. An empty path logs to stderr.
func setupLogger(cfg *config.Log) (*os.File, error) {
	var (
		logFile *os.File
		out     io.Writer = os.Stderr
		err     error
	)
	switch {
	case cfg.FilePath == "":
	case strings.HasSuffix(cfg.FilePath, ".log"):
		logFile, err = os.OpenFile(cfg.FilePath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, fmt.Errorf("not able to open or create log file: %v", cfg.FilePath)
		}
		out = logFile
	default:
		path := cfg.FilePath + "_" + strconv.Itoa(int(time.Now().Unix())) + ".log"
		logFile, err = os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("not able to create log file: %v", path)
		}
		out = logFile
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch cfg.Level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Info().Msg("logger setup is done")
	return logFile, nil
}

// initMirrors connects each storage system referenced by at least one market, once.
func initMirrors(cfg *config.Config) (map[string]storage.Mirror, error) {
	mirrors := make(map[string]storage.Mirror)
	for _, exch := range cfg.Exchanges {
		for _, market := range exch.Markets {
			for _, str := range market.Storages {
				if _, ok := mirrors[str]; ok {
					continue
				}
				switch str {
				case "terminal":
					mirrors[str] = storage.InitTerminal(os.Stdout)
					log.Info().Msg("terminal connected")
				case "clickhouse":
					ch, err := storage.InitClickHouse(&cfg.Connection.ClickHouse)
					if err != nil {
						return nil, errors.Wrap(err, "clickhouse connection")
					}
					mirrors[str] = ch
					log.Info().Msg("clickhouse connected")
				default:
					return nil, errors.Errorf("unknown storage %q", str)
				}
			}
		}
	}
	return mirrors, nil
}
