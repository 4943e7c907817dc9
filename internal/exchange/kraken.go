package exchange

import (
	"context"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/milkywaybrain/tickvault/internal/storage"
	"github.com/pkg/errors"
)

// krakenPageSize is the maximum number of trades kraken returns per call.
const krakenPageSize = 1000

type kraken struct {
	rest    *connector.REST
	baseURL string
	pair    string
	poll    time.Duration

	// since is the cursor returned by the last call, in nanoseconds.
	since int64
}

type restRespKraken struct {
	Error  []string                       `json:"error"`
	Result map[string]jsoniter.RawMessage `json:"result"`
}

func newKraken(rest *connector.REST, baseURL, pair string, poll time.Duration) *kraken {
	return &kraken{rest: rest, baseURL: baseURL, pair: pair, poll: poll}
}

func (k *kraken) setup(last storage.Tick, ok bool) {
	k.since = 0
	if ok {
		k.since = int64(last.Timestamp * 1e9)
	}
}

func (k *kraken) fetch(ctx context.Context) ([]storage.Tick, time.Duration, error) {
	q := url.Values{}
	q.Set("pair", k.pair)
	q.Set("since", strconv.FormatInt(k.since, 10))

	var rr restRespKraken
	if err := k.rest.GetJSON(ctx, k.baseURL+"Trades?"+q.Encode(), &rr); err != nil {
		return nil, 0, err
	}
	ticks, last, err := k.parse(&rr)
	if err != nil {
		return nil, 0, err
	}
	k.since = last

	// A full page means there are more trades waiting.
	if len(ticks) == krakenPageSize {
		return ticks, 0, nil
	}
	return ticks, k.poll, nil
}

// parse returns the trades of the response and the next cursor in nanoseconds.
// Rows are [price, volume, time, side, type, misc].
func (k *kraken) parse(rr *restRespKraken) ([]storage.Tick, int64, error) {
	if len(rr.Error) > 0 {
		return nil, 0, errors.Errorf("kraken error: %v", rr.Error)
	}
	rows, ok := rr.Result[k.pair]
	if !ok {
		return nil, 0, errors.Errorf("kraken response without pair %s", k.pair)
	}
	var cursor string
	if err := jsoniter.Unmarshal(rr.Result["last"], &cursor); err != nil {
		return nil, 0, errors.Wrap(err, "kraken last")
	}
	lastNs, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return nil, 0, errors.Wrap(err, "kraken last")
	}

	var data [][]interface{}
	if err := jsoniter.Unmarshal(rows, &data); err != nil {
		return nil, 0, errors.Wrap(err, "kraken trades")
	}
	ticks := make([]storage.Tick, 0, len(data))
	for _, row := range data {
		if len(row) < 3 {
			return nil, 0, errors.Errorf("kraken trade row too short: %v", row)
		}
		price, err := parseNumber(row[0])
		if err != nil {
			return nil, 0, errors.Wrap(err, "kraken price")
		}
		volume, err := parseNumber(row[1])
		if err != nil {
			return nil, 0, errors.Wrap(err, "kraken volume")
		}
		ts, err := parseNumber(row[2])
		if err != nil {
			return nil, 0, errors.Wrap(err, "kraken time")
		}
		ticks = append(ticks, storage.Tick{Timestamp: ts, Price: price, Volume: volume})
	}
	return ticks, lastNs, nil
}
