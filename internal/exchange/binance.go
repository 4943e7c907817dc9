package exchange

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/pkg/errors"
)

// binancePageSize is the maximum number of aggregate trades binance returns per call.
const binancePageSize = 1000

type binance struct {
	rest    *connector.REST
	baseURL string
	symbol  string
	poll    time.Duration

	// fromID is the next aggregate trade id, zero till the first fetch.
	fromID int64
	// after is the timestamp of the newest stored trade, used while fromID is unknown.
	after float64
}

type restRespBinance struct {
	AggID int64  `json:"a"`
	Price string `json:"p"`
	Qty   string `json:"q"`
	Time  int64  `json:"T"`
}

func newBinance(rest *connector.REST, baseURL, symbol string, poll time.Duration) *binance {
	return &binance{rest: rest, baseURL: baseURL, symbol: symbol, poll: poll}
}

func (b *binance) setup(last storage.Tick, ok bool) {
	b.fromID = 0
	b.after = 0
	if ok {
		b.after = last.Timestamp
	}
}

func (b *binance) fetch(ctx context.Context) ([]storage.Tick, time.Duration, error) {
	q := url.Values{}
	q.Set("symbol", b.symbol)
	q.Set("limit", strconv.Itoa(binancePageSize))
	switch {
	case b.fromID > 0:
		q.Set("fromId", strconv.FormatInt(b.fromID, 10))
	case b.after > 0:
		// Time sent is in milliseconds.
		q.Set("startTime", strconv.FormatInt(int64(b.after*1000), 10))
	}

	var rr []restRespBinance
	if err := b.rest.GetJSON(ctx, b.baseURL+"aggTrades?"+q.Encode(), &rr); err != nil {
		return nil, 0, err
	}
	ticks, err := b.parse(rr)
	if err != nil {
		return nil, 0, err
	}
	if len(rr) == binancePageSize {
		return ticks, 0, nil
	}
	return ticks, b.poll, nil
}

func (b *binance) parse(rr []restRespBinance) ([]storage.Tick, error) {
	filterByTime := b.fromID == 0
	ticks := make([]storage.Tick, 0, len(rr))
	for i := range rr {
		r := rr[i]
		if r.AggID >= b.fromID {
			b.fromID = r.AggID + 1
		}
		ts := float64(r.Time) / 1000
		if filterByTime && ts <= b.after {
			continue
		}
		price, err := strconv.ParseFloat(r.Price, 64)
		if err != nil {
			return nil, errors.Wrap(err, "binance price")
		}
		qty, err := strconv.ParseFloat(r.Qty, 64)
		if err != nil {
			return nil, errors.Wrap(err, "binance qty")
		}
		ticks = append(ticks, storage.Tick{Timestamp: ts, Price: price, Volume: qty})
	}
	return ticks, nil
}
