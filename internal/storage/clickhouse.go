package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/milkywaybrain/tickvault/internal/config"
	"github.com/pkg/errors"
)

// ClickHouse is for connecting and inserting ticks to ClickHouse.
type ClickHouse struct {
	DB  *sql.DB
	Cfg *config.ClickHouse
}

var clickHouse ClickHouse

// ClickHouse timestamp format.
const clickHouseTimestamp = "2006-01-02 15:04:05.999999"

// InitClickHouse initializes ClickHouse connection with configured values.
func InitClickHouse(cfg *config.ClickHouse) (*ClickHouse, error) {
	if clickHouse.DB == nil {
		db, err := sql.Open("clickhouse", clickHouseDSN(cfg))
		if err != nil {
			return nil, err
		}

		err = db.Ping()
		if err != nil {
			return nil, err
		}
		clickHouse = ClickHouse{
			DB:  db,
			Cfg: cfg,
		}
	}
	return &clickHouse, nil
}

// GetClickHouse returns already prepared clickHouse instance.
func GetClickHouse() *ClickHouse {
	return &clickHouse
}

func clickHouseDSN(cfg *config.ClickHouse) string {
	var dataSourceName strings.Builder
	dataSourceName.WriteString(cfg.URL + "?")
	dataSourceName.WriteString("database=" + cfg.Schema)
	dataSourceName.WriteString("&read_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec) + "&write_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec))
	if strings.TrimSpace(cfg.User) != "" && strings.TrimSpace(cfg.Password) != "" {
		dataSourceName.WriteString("&username=" + cfg.User + "&password=" + cfg.Password)
	}
	if cfg.Compression {
		dataSourceName.WriteString("&compress=1")
	}
	var hosts []string
	for _, v := range cfg.AltHosts {
		if strings.TrimSpace(v) != "" {
			hosts = append(hosts, v)
		}
	}
	if len(hosts) > 0 {
		dataSourceName.WriteString("&alt_hosts=" + strings.Join(hosts, ","))
	}
	return dataSourceName.String()
}

// tickTable maps a stream name like kraken.btc_usd to trade_kraken_btc_usd.
func tickTable(stream string) string {
	return "trade_" + strings.NewReplacer(".", "_", "-", "_").Replace(stream)
}

// CommitTicks batch inserts input ticks to clickHouse.
// The ClickHouse driver sends a batch when the transaction commits.
func (c *ClickHouse) CommitTicks(ctx context.Context, stream string, data []Tick) error {
	if len(data) == 0 {
		return nil
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "clickhouse begin")
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+tickTable(stream)+" (price, volume, timestamp) VALUES (?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "clickhouse prepare")
	}
	defer stmt.Close()

	for i := range data {
		tick := data[i]
		_, err := stmt.ExecContext(ctx, tick.Price, tick.Volume, unixTime(tick.Timestamp).UTC().Format(clickHouseTimestamp))
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "clickhouse insert")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "clickhouse commit")
	}
	return nil
}
