package exchange

import (
	"context"
	"sort"
	"time"

	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/pkg/errors"
)

// bitstampTimestampStep keeps the last stored trade out of the first fetch after a restart.
const bitstampTimestampStep = 0.0001

type bitstamp struct {
	rest    *connector.REST
	baseURL string
	pair    string
	poll    time.Duration

	// newestTID is zero till the first fetch, trades are then filtered by newestTimestamp.
	newestTID       int64
	newestTimestamp float64
}

type restRespBitstamp struct {
	Date   interface{} `json:"date"`
	TID    interface{} `json:"tid"`
	Price  interface{} `json:"price"`
	Amount interface{} `json:"amount"`
}

func newBitstamp(rest *connector.REST, baseURL, pair string, poll time.Duration) *bitstamp {
	return &bitstamp{rest: rest, baseURL: baseURL, pair: pair, poll: poll}
}

func (b *bitstamp) setup(last storage.Tick, ok bool) {
	b.newestTID = 0
	b.newestTimestamp = 0
	if ok {
		b.newestTimestamp = last.Timestamp + bitstampTimestampStep
	}
}

func (b *bitstamp) fetch(ctx context.Context) ([]storage.Tick, time.Duration, error) {
	var rr []restRespBitstamp
	if err := b.rest.GetJSON(ctx, b.baseURL+"transactions/"+b.pair+"/", &rr); err != nil {
		return nil, 0, err
	}
	ticks, err := b.parse(rr)
	if err != nil {
		return nil, 0, err
	}
	return ticks, b.poll, nil
}

// parse keeps the trades newer than the last seen one, sorted by time.
// Bitstamp sends the newest trade first.
func (b *bitstamp) parse(rr []restRespBitstamp) ([]storage.Tick, error) {
	filterByTime := b.newestTID == 0
	newestTID := b.newestTID
	ticks := make([]storage.Tick, 0, len(rr))
	for i := len(rr) - 1; i >= 0; i-- {
		r := rr[i]
		tidF, err := parseNumber(r.TID)
		if err != nil {
			return nil, errors.Wrap(err, "bitstamp tid")
		}
		tid := int64(tidF)
		if tid <= b.newestTID {
			continue
		}
		if tid > newestTID {
			newestTID = tid
		}

		ts, err := parseNumber(r.Date)
		if err != nil {
			return nil, errors.Wrap(err, "bitstamp date")
		}
		if filterByTime && ts < b.newestTimestamp {
			continue
		}
		price, err := parseNumber(r.Price)
		if err != nil {
			return nil, errors.Wrap(err, "bitstamp price")
		}
		amount, err := parseNumber(r.Amount)
		if err != nil {
			return nil, errors.Wrap(err, "bitstamp amount")
		}
		ticks = append(ticks, storage.Tick{Timestamp: ts, Price: price, Volume: amount})
	}
	b.newestTID = newestTID

	// Trades are not guaranteed to have ordered timestamps.
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Timestamp < ticks[j].Timestamp })
	return ticks, nil
}
