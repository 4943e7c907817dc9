package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milkywaybrain/tickvault/internal/config"
	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/milkywaybrain/tickvault/internal/ticket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// fetcher is the exchange specific part of a watcher.
type fetcher interface {
	// setup recovers the fetch position from the newest stored tick, if any.
	setup(last storage.Tick, ok bool)

	// fetch returns new ticks in time order and the delay to ask for with the next ticket.
	fetch(ctx context.Context) ([]storage.Tick, time.Duration, error)
}

// Deps are the shared systems a market watcher runs with.
type Deps struct {
	REST    *connector.REST
	Tickets *ticket.Registry
	Storage *config.Storage
	Mirrors map[string]storage.Mirror
}

// StreamName is the name of the stream a market is stored in, like kraken.btc_usd.
func StreamName(exch *config.Exchange, market *config.Market) string {
	return exch.Name + "." + market.StreamName()
}

// StartMarket is for starting the watcher of one exchange market.
func StartMarket(appCtx context.Context, exch *config.Exchange, market *config.Market, deps *Deps) error {
	name := StreamName(exch, market)

	var opts []storage.Option
	if deps.Storage.SkipMalformed {
		opts = append(opts, storage.WithSkipMalformed())
	}
	stream, err := storage.OpenStream(deps.Storage.Directory, name, deps.Storage.Encoding, opts...)
	if err != nil {
		logErrStack(err)
		return err
	}
	defer func() {
		if err := stream.Unload(); err != nil {
			logErrStack(err)
		}
	}()

	f, err := newFetcher(exch, market, deps.REST)
	if err != nil {
		logErrStack(err)
		return err
	}

	var mirrors []storage.Mirror
	for _, str := range market.Storages {
		m, ok := deps.Mirrors[str]
		if !ok {
			return errors.Errorf("%s: storage %s is not initialized", name, str)
		}
		mirrors = append(mirrors, m)
	}

	w := &watcher{
		name:     name,
		exchange: exch.Name,
		market:   market.ID,
		stream:   stream,
		tickets:  deps.Tickets.Get(exch.Name, seconds(exch.TicketIntervalSec)),
		fetcher:  f,
		mirrors:  mirrors,
	}
	return retry(appCtx, name, &exch.Retry, w.run)
}

// retry runs fn again after a failure, with a time gap, till it reaches a configured number of retry.
// Retry counter will be reset back to zero if the elapsed time since the last retry is greater than the configured one.
func retry(appCtx context.Context, name string, cfg *config.Retry, fn func(context.Context) error) error {
	var retryCount int
	lastRetryTime := time.Now()

	for {
		log.Info().Str("stream", name).Msg("start")
		err := fn(appCtx)
		if err == nil {
			return nil
		}
		if appCtx.Err() != nil {
			log.Info().Str("stream", name).Msg("ctx canceled, return from watcher")
			return appCtx.Err()
		}
		log.Error().Err(err).Str("stream", name).Msg("error occurred")
		if cfg.Number == 0 {
			return errors.Wrapf(err, "not able to watch %s", name)
		}
		if cfg.ResetSec == 0 || time.Since(lastRetryTime).Seconds() < float64(cfg.ResetSec) {
			retryCount++
		} else {
			retryCount = 1
		}
		lastRetryTime = time.Now()
		if retryCount > cfg.Number {
			err = fmt.Errorf("not able to watch %s even after %d retry", name, cfg.Number)
			log.Error().Err(err).Str("stream", name).Msg("")
			return err
		}

		log.Error().Str("stream", name).Int("retry", retryCount).Msg(fmt.Sprintf("retrying functions in %d seconds", cfg.GapSec))
		tick := time.NewTimer(time.Duration(cfg.GapSec) * time.Second)
		select {
		case <-tick.C:

		// Return, if there is any error from another market.
		case <-appCtx.Done():
			tick.Stop()
			log.Info().Str("stream", name).Msg("ctx canceled, return from watcher")
			return appCtx.Err()
		}
	}
}

func newFetcher(exch *config.Exchange, market *config.Market, rest *connector.REST) (fetcher, error) {
	poll := seconds(market.PollIntervalSec)
	switch exch.Name {
	case "kraken":
		return newKraken(rest, baseURL(exch, config.KrakenRESTBaseURL), market.ID, poll), nil
	case "bitstamp":
		return newBitstamp(rest, baseURL(exch, config.BitstampRESTBaseURL), market.ID, poll), nil
	case "binance":
		return newBinance(rest, baseURL(exch, config.BinanceRESTBaseURL), market.ID, poll), nil
	}
	return nil, errors.Errorf("exchange %s is not supported", exch.Name)
}

func baseURL(exch *config.Exchange, def string) string {
	if exch.BaseURL != "" {
		return exch.BaseURL
	}
	return def
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// parseNumber accepts both JSON numbers and numeric strings as exchanges send either.
func parseNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, errors.New("missing number")
	}
	return 0, errors.Errorf("unexpected number type %T", v)
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
