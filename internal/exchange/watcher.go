package exchange

import (
	"context"
	"time"

	"github.com/milkywaybrain/tickvault/internal/metrics"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/milkywaybrain/tickvault/internal/ticket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// watcher polls one market and appends the new ticks to its stream.
type watcher struct {
	name     string
	exchange string
	market   string
	stream   storage.Stream
	tickets  *ticket.Controller
	fetcher  fetcher
	mirrors  []storage.Mirror
}

// run recovers the last position from the stream, then repeats
// ticket, fetch, append, flush and mirror commit till an error occurs or ctx is done.
func (w *watcher) run(ctx context.Context) error {
	last, ok, err := storage.Last(w.stream)
	if err != nil {
		logErrStack(err)
		return err
	}
	w.fetcher.setup(last, ok)
	log.Info().Str("exchange", w.exchange).Str("market", w.market).Bool("resumed", ok).Float64("last", last.Timestamp).Msg("watcher setup is done")

	var delay time.Duration
	for {
		start := time.Now()
		if err := w.tickets.Request(ctx, delay); err != nil {
			return err
		}
		metrics.TicketWait.WithLabelValues(w.exchange).Observe(time.Since(start).Seconds())

		ticks, next, err := w.fetcher.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				metrics.FetchErrors.WithLabelValues(w.exchange).Inc()
				logErrStack(err)
			}
			return err
		}
		delay = next

		if err := w.store(ctx, ticks); err != nil {
			return err
		}
		log.Debug().Str("exchange", w.exchange).Str("market", w.market).Int("ticks", len(ticks)).Dur("next", next).Msg("ticks stored")
	}
}

func (w *watcher) store(ctx context.Context, ticks []storage.Tick) error {
	for i := range ticks {
		if err := w.stream.Append(ticks[i]); err != nil {
			logErrStack(err)
			return err
		}
	}
	if err := w.stream.Flush(); err != nil {
		logErrStack(err)
		return err
	}
	metrics.TicksStored.WithLabelValues(w.name).Add(float64(len(ticks)))
	if len(ticks) == 0 {
		return nil
	}
	// The stream already holds the batch, so a restart resumes after it and the mirror misses it.
	for i, m := range w.mirrors {
		if err := m.CommitTicks(ctx, w.name, ticks); err != nil {
			if !errors.Is(err, ctx.Err()) {
				logErrStack(err)
			}
			log.Error().Str("stream", w.name).Int("mirror", i).Int("ticks", len(ticks)).
				Float64("from", ticks[0].Timestamp).Float64("to", ticks[len(ticks)-1].Timestamp).
				Msg("batch stored but not committed to mirror")
			return err
		}
	}
	return nil
}
