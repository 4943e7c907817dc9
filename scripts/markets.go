package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/milkywaybrain/tickvault/internal/config"
	"github.com/milkywaybrain/tickvault/internal/connector"
	"github.com/rs/zerolog/log"
)

// marketRow is one line of the markets csv file.
type marketRow struct {
	Exchange string `csv:"exchange"`
	ID       string `csv:"id"`
	Name     string `csv:"name"`
}

// This function will query all the supported exchanges for market info and store it in a csv file.
// Users can look up to this csv file to give market ID in the app configuration.
// CSV file created at ./examples/markets.csv.
func main() {
	ctx := context.Background()
	rest := connector.NewREST(&config.REST{ReqTimeoutSec: 30})
	var rows []marketRow

	// Kraken exchange.
	krakenMarkets := krakenResp{}
	if err := rest.GetJSON(ctx, config.KrakenRESTBaseURL+"AssetPairs", &krakenMarkets); err != nil {
		log.Error().Err(err).Str("exchange", "kraken").Msg("exchange request for markets")
		return
	}
	if len(krakenMarkets.Error) > 0 {
		log.Error().Strs("errors", krakenMarkets.Error).Str("exchange", "kraken").Msg("exchange request for markets")
		return
	}
	ids := make([]string, 0, len(krakenMarkets.Result))
	for id := range krakenMarkets.Result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rows = append(rows, marketRow{Exchange: "kraken", ID: id, Name: krakenMarkets.Result[id].WSName})
	}
	fmt.Println("got market info from Kraken")

	// Bitstamp exchange.
	bitstampMarkets := []bitstampResp{}
	if err := rest.GetJSON(ctx, config.BitstampRESTBaseURL+"trading-pairs-info/", &bitstampMarkets); err != nil {
		log.Error().Err(err).Str("exchange", "bitstamp").Msg("exchange request for markets")
		return
	}
	for _, record := range bitstampMarkets {
		if record.Trading == "Enabled" {
			rows = append(rows, marketRow{Exchange: "bitstamp", ID: record.URLSymbol, Name: record.Name})
		}
	}
	fmt.Println("got market info from Bitstamp")

	// Binance exchange.
	binanceMarkets := binanceResp{}
	if err := rest.GetJSON(ctx, config.BinanceRESTBaseURL+"exchangeInfo", &binanceMarkets); err != nil {
		log.Error().Err(err).Str("exchange", "binance").Msg("exchange request for markets")
		return
	}
	for _, record := range binanceMarkets.Symbols {
		if record.Status == "TRADING" {
			rows = append(rows, marketRow{Exchange: "binance", ID: record.Symbol, Name: record.BaseAsset + "/" + record.QuoteAsset})
		}
	}
	fmt.Println("got market info from Binance")

	if err := os.MkdirAll("./examples", 0755); err != nil {
		log.Error().Err(err).Msg("examples directory create")
		return
	}
	f, err := os.Create("./examples/markets.csv")
	if err != nil {
		log.Error().Err(err).Msg("csv file create")
		return
	}
	defer f.Close()
	if err = gocsv.MarshalFile(&rows, f); err != nil {
		log.Error().Err(err).Msg("writing markets to csv")
		return
	}
	fmt.Printf("%d markets written to ./examples/markets.csv\n", len(rows))
}

type krakenResp struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		AltName string `json:"altname"`
		WSName  string `json:"wsname"`
	} `json:"result"`
}

type bitstampResp struct {
	Name      string `json:"name"`
	URLSymbol string `json:"url_symbol"`
	Trading   string `json:"trading"`
}

type binanceResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}
