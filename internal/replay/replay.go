// Package replay implements C9, the Replay Source: a deterministic
// historical market-data feed read from CSV or Parquet and played back
// onto the bus under pause/resume/seek control, at a configurable speed.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/autovant/perp-paper-core/internal/types"
)

// Config drives one replay run.
type Config struct {
	Source  string
	Speed   string
	Start   string
	End     string
	Symbol  string
}

// Publisher hands one replayed record to the bus.
type Publisher func(types.MarketData) error

// ControlSource delivers pause/resume/seek commands while a replay runs.
type ControlSource <-chan types.ReplayControl

// Run reads Config.Source, filters and sorts it, then publishes each
// record at the configured speed until it is exhausted or ctx is
// cancelled. Records with a timestamp already published during this call
// are dropped, so seeking back into already-played records never
// publishes a bar twice within one run. The set of seen timestamps is not
// kept across separate calls to Run.
func Run(ctx context.Context, cfg Config, publish Publisher, control ControlSource) error {
	data, err := readData(cfg.Source, cfg.Symbol)
	if err != nil {
		return err
	}

	data = filterWindow(data, cfg.Start, cfg.End)
	sort.Slice(data, func(i, j int) bool { return data[i].Timestamp.Before(data[j].Timestamp) })
	if len(data) == 0 {
		return fmt.Errorf("replay: no data available for %s", cfg.Source)
	}

	speed := parseSpeed(cfg.Speed)
	ticker := time.NewTicker(time.Second / time.Duration(speed))
	defer ticker.Stop()

	seen := make(map[int64]bool, len(data))
	paused := false
	index := 0

	for index < len(data) {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-control:
			if !ok {
				control = nil
				continue
			}
			index = applyCommand(cmd, data, index, &paused)
		case <-ticker.C:
			if paused {
				continue
			}
			record := data[index]
			key := record.Timestamp.UnixNano()
			if !seen[key] {
				seen[key] = true
				if err := publish(record); err != nil {
					log.Printf("replay: publish failed for %s at %s: %v", record.Symbol, record.Timestamp, err)
				}
			}
			index++
		}
	}

	return nil
}

func applyCommand(cmd types.ReplayControl, data []types.MarketData, index int, paused *bool) int {
	switch strings.ToLower(cmd.Command) {
	case "pause":
		*paused = true
	case "resume":
		*paused = false
	case "seek":
		ts, err := time.Parse(time.RFC3339, cmd.Timestamp)
		if err != nil {
			log.Printf("replay: invalid seek timestamp %q: %v", cmd.Timestamp, err)
			return index
		}
		if idx := seekIndex(data, ts); idx >= 0 {
			return idx
		}
	default:
		log.Printf("replay: unknown control command %q", cmd.Command)
	}
	return index
}

func filterWindow(data []types.MarketData, start, end string) []types.MarketData {
	var startTime, endTime time.Time
	var err error
	if start != "" {
		if startTime, err = time.Parse(time.RFC3339, start); err != nil {
			log.Printf("replay: invalid start %q: %v", start, err)
			startTime = time.Time{}
		}
	}
	if end != "" {
		if endTime, err = time.Parse(time.RFC3339, end); err != nil {
			log.Printf("replay: invalid end %q: %v", end, err)
			endTime = time.Time{}
		}
	}
	if startTime.IsZero() && endTime.IsZero() {
		return data
	}

	filtered := make([]types.MarketData, 0, len(data))
	for _, record := range data {
		if !startTime.IsZero() && record.Timestamp.Before(startTime) {
			continue
		}
		if !endTime.IsZero() && record.Timestamp.After(endTime) {
			continue
		}
		filtered = append(filtered, record)
	}
	if len(filtered) > 0 {
		return filtered
	}
	return data
}

func parseSpeed(raw string) int {
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "x")
	speed, err := strconv.Atoi(trimmed)
	if err != nil || speed <= 0 {
		log.Printf("replay: invalid speed %q, defaulting to 1x", raw)
		return 1
	}
	return speed
}

func seekIndex(data []types.MarketData, target time.Time) int {
	for i, record := range data {
		if !record.Timestamp.Before(target) {
			return i
		}
	}
	if len(data) == 0 {
		return 0
	}
	return len(data) - 1
}

func readData(source, defaultSymbol string) ([]types.MarketData, error) {
	source = strings.TrimSpace(source)
	scheme, path := parseSource(source)

	switch scheme {
	case "csv":
		return readCSV(path, defaultSymbol)
	case "parquet":
		return readParquet(path, defaultSymbol)
	case "":
		switch {
		case strings.HasSuffix(strings.ToLower(path), ".csv"):
			return readCSV(path, defaultSymbol)
		case strings.HasSuffix(strings.ToLower(path), ".parquet"):
			return readParquet(path, defaultSymbol)
		}
	}

	return nil, fmt.Errorf("replay: unsupported source %q", source)
}

func parseSource(source string) (scheme string, path string) {
	if idx := strings.Index(source, "://"); idx != -1 {
		return strings.ToLower(source[:idx]), source[idx+3:]
	}
	return "", source
}

func readCSV(path, defaultSymbol string) ([]types.MarketData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("replay: csv file %s has no data rows", path)
	}

	header := make(map[string]int, len(records[0]))
	for idx, col := range records[0] {
		header[strings.ToLower(strings.TrimSpace(col))] = idx
	}

	required := []string{"timestamp", "open", "high", "low", "close"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("replay: csv file %s missing required column %q", path, col)
		}
	}

	symbolIdx, hasSymbol := header["symbol"]
	volumeIdx, hasVolume := header["volume"]

	var data []types.MarketData
	for _, record := range records[1:] {
		ts, err := time.Parse(time.RFC3339, record[header["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("replay: invalid timestamp %q: %w", record[header["timestamp"]], err)
		}

		open, err := strconv.ParseFloat(record[header["open"]], 64)
		if err != nil {
			return nil, fmt.Errorf("replay: invalid open %q: %w", record[header["open"]], err)
		}
		high, err := strconv.ParseFloat(record[header["high"]], 64)
		if err != nil {
			return nil, fmt.Errorf("replay: invalid high %q: %w", record[header["high"]], err)
		}
		low, err := strconv.ParseFloat(record[header["low"]], 64)
		if err != nil {
			return nil, fmt.Errorf("replay: invalid low %q: %w", record[header["low"]], err)
		}
		closeVal, err := strconv.ParseFloat(record[header["close"]], 64)
		if err != nil {
			return nil, fmt.Errorf("replay: invalid close %q: %w", record[header["close"]], err)
		}

		volume := 0.0
		if hasVolume && volumeIdx < len(record) && record[volumeIdx] != "" {
			if volume, err = strconv.ParseFloat(record[volumeIdx], 64); err != nil {
				volume = 0.0
			}
		}

		symbol := defaultSymbol
		if hasSymbol && symbolIdx < len(record) && record[symbolIdx] != "" {
			symbol = record[symbolIdx]
		}
		if symbol == "" {
			symbol = "BTCUSDT"
		}

		data = append(data, buildMarketData(symbol, ts, open, high, low, closeVal, volume))
	}

	return data, nil
}

func readParquet(path, defaultSymbol string) ([]types.MarketData, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	type parquetRow struct {
		Timestamp int64   `parquet:"name=timestamp"`
		Symbol    string  `parquet:"name=symbol"`
		Open      float64 `parquet:"name=open"`
		High      float64 `parquet:"name=high"`
		Low       float64 `parquet:"name=low"`
		Close     float64 `parquet:"name=close"`
		Volume    float64 `parquet:"name=volume"`
	}

	pr, err := reader.NewParquetReader(fr, new(parquetRow), 4)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	rows := make([]parquetRow, numRows)
	if err := pr.Read(&rows); err != nil {
		return nil, err
	}

	var data []types.MarketData
	for _, row := range rows {
		var ts time.Time
		switch {
		case row.Timestamp > 1e16:
			ts = time.Unix(0, row.Timestamp).UTC()
		case row.Timestamp > 1e12:
			ts = time.Unix(0, row.Timestamp*int64(time.Millisecond)).UTC()
		default:
			ts = time.Unix(row.Timestamp, 0).UTC()
		}
		symbol := row.Symbol
		if symbol == "" {
			symbol = defaultSymbol
		}
		if symbol == "" {
			symbol = "BTCUSDT"
		}
		data = append(data, buildMarketData(symbol, ts, row.Open, row.High, row.Low, row.Close, row.Volume))
	}

	return data, nil
}

func buildMarketData(symbol string, ts time.Time, open, high, low, close, volume float64) types.MarketData {
	volume = math.Max(volume, 1)
	ts = ts.UTC()
	spread := math.Max((high-low)*0.2, math.Max(close*0.0004, 0.5))
	bestBid := close - spread/2
	bestAsk := close + spread/2
	bidSize := math.Max(volume*0.25, 1)
	askSize := math.Max(volume*0.25, 1)
	side := "buy"
	if close < open {
		side = "sell"
	}
	lastSize := math.Max(volume*0.1, 1)
	ofi := (bidSize - askSize) * spread

	return types.MarketData{
		Symbol:       symbol,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		BidSize:      bidSize,
		AskSize:      askSize,
		LastPrice:    close,
		LastSide:     side,
		LastSize:     lastSize,
		FundingRate:  0,
		Timestamp:    ts,
		OrderFlowImb: ofi,
	}
}
