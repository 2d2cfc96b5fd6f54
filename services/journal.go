package services

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
)

// TradeJournal writes per-session trading reports to disk as JSON and
// renders trade ledgers as CSV. Reports are built from a serialized
// session snapshot, so a report can be regenerated for any saved
// session without replaying it.
type TradeJournal struct {
	logger *logrus.Logger
	dir    string
}

// SessionReport is a full end-of-session record: summary stats, a
// per-contract breakdown, and the raw fill sequence.
type SessionReport struct {
	Name        string             `json:"name"`
	Symbol      string             `json:"symbol"`
	GeneratedAt time.Time          `json:"generated_at"`
	Summary     ReportSummary      `json:"summary"`
	Contracts   []ContractActivity `json:"contracts"`
	Trades      []Trade            `json:"trades"`
}

// ReportSummary holds the headline numbers for a session.
type ReportSummary struct {
	InitialCash          float64   `json:"initial_cash"`
	Cash                 float64   `json:"cash"`
	RealizedPnL          float64   `json:"realized_pnl"`
	TotalCommissions     float64   `json:"total_commissions"`
	TotalTrades          int       `json:"total_trades"`
	ContractsTraded      int       `json:"contracts_traded"`
	OpenPositions        int       `json:"open_positions"`
	ContractsBought      int       `json:"contracts_bought"`
	ContractsSold        int       `json:"contracts_sold"`
	GrossPremiumPaid     float64   `json:"gross_premium_paid"`
	GrossPremiumReceived float64   `json:"gross_premium_received"`
	LargestFillNotional  float64   `json:"largest_fill_notional"`
	FirstTrade           time.Time `json:"first_trade,omitempty"`
	LastTrade            time.Time `json:"last_trade,omitempty"`
}

// ContractActivity aggregates all fills in one contract.
type ContractActivity struct {
	Contract     string  `json:"contract"`
	Trades       int     `json:"trades"`
	BoughtQty    int     `json:"bought_qty"`
	SoldQty      int     `json:"sold_qty"`
	NetQuantity  int     `json:"net_quantity"`
	AvgBuyPrice  float64 `json:"avg_buy_price"`
	AvgSellPrice float64 `json:"avg_sell_price"`
	Commissions  float64 `json:"commissions"`
}

// csvTradeRow flattens a trade for spreadsheet export.
type csvTradeRow struct {
	Timestamp       string  `csv:"timestamp"`
	Contract        string  `csv:"contract"`
	Side            string  `csv:"side"`
	Quantity        int     `csv:"quantity"`
	Price           float64 `csv:"price"`
	Commission      float64 `csv:"commission"`
	UnderlyingPrice float64 `csv:"underlying_price"`
	TotalCost       float64 `csv:"total_cost"`
}

// NewTradeJournal creates a journal rooted at dir, creating it if
// needed.
func NewTradeJournal(dir string) *TradeJournal {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.WithError(err).Error("Failed to create journal directory")
	}

	return &TradeJournal{
		logger: logger,
		dir:    dir,
	}
}

// BuildReport computes a session report from a serialized snapshot.
func (tj *TradeJournal) BuildReport(name string, state SessionState) SessionReport {
	report := SessionReport{
		Name:        name,
		Symbol:      state.Symbol,
		GeneratedAt: time.Now().UTC(),
		Summary: ReportSummary{
			InitialCash:      state.InitialCash,
			Cash:             state.Cash,
			RealizedPnL:      state.Portfolio.RealizedPnL,
			TotalCommissions: state.Portfolio.TotalCommissions,
			TotalTrades:      len(state.TradeHistory),
			OpenPositions:    len(state.Portfolio.Positions),
		},
		Trades: state.TradeHistory,
	}

	byContract := make(map[string]*ContractActivity)
	for _, trade := range state.TradeHistory {
		activity, ok := byContract[trade.Contract]
		if !ok {
			activity = &ContractActivity{Contract: trade.Contract}
			byContract[trade.Contract] = activity
		}
		activity.Trades++
		activity.Commissions += trade.Commission

		premium := trade.Price * float64(trade.Quantity) * ContractMultiplier
		if trade.Side == "buy" {
			// Blend into the running average before bumping the count.
			activity.AvgBuyPrice = blendPrice(activity.AvgBuyPrice, activity.BoughtQty, trade.Price, trade.Quantity)
			activity.BoughtQty += trade.Quantity
			activity.NetQuantity += trade.Quantity
			report.Summary.ContractsBought += trade.Quantity
			report.Summary.GrossPremiumPaid += premium
		} else {
			activity.AvgSellPrice = blendPrice(activity.AvgSellPrice, activity.SoldQty, trade.Price, trade.Quantity)
			activity.SoldQty += trade.Quantity
			activity.NetQuantity -= trade.Quantity
			report.Summary.ContractsSold += trade.Quantity
			report.Summary.GrossPremiumReceived += premium
		}

		if notional := math.Abs(premium); notional > report.Summary.LargestFillNotional {
			report.Summary.LargestFillNotional = notional
		}
		if report.Summary.FirstTrade.IsZero() || trade.Timestamp.Before(report.Summary.FirstTrade) {
			report.Summary.FirstTrade = trade.Timestamp
		}
		if trade.Timestamp.After(report.Summary.LastTrade) {
			report.Summary.LastTrade = trade.Timestamp
		}
	}

	report.Summary.ContractsTraded = len(byContract)
	report.Contracts = make([]ContractActivity, 0, len(byContract))
	for _, activity := range byContract {
		report.Contracts = append(report.Contracts, *activity)
	}
	sort.Slice(report.Contracts, func(i, j int) bool {
		return report.Contracts[i].Contract < report.Contracts[j].Contract
	})

	return report
}

// WriteReport builds the report and persists it as journal_<name>.json.
func (tj *TradeJournal) WriteReport(name string, state SessionState) (SessionReport, error) {
	report := tj.BuildReport(name, state)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return SessionReport{}, fmt.Errorf("failed to marshal report: %w", err)
	}

	filename := filepath.Join(tj.dir, fmt.Sprintf("journal_%s.json", name))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return SessionReport{}, fmt.Errorf("failed to write report file: %w", err)
	}

	tj.logger.WithFields(logrus.Fields{
		"name":   name,
		"trades": report.Summary.TotalTrades,
		"file":   filename,
	}).Info("Session report written")

	return report, nil
}

// ReadReport loads a previously written report by session name.
func (tj *TradeJournal) ReadReport(name string) (SessionReport, error) {
	filename := filepath.Join(tj.dir, fmt.Sprintf("journal_%s.json", name))

	data, err := os.ReadFile(filename)
	if err != nil {
		return SessionReport{}, fmt.Errorf("report not found for %s: %w", name, err)
	}

	var report SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return SessionReport{}, fmt.Errorf("failed to parse report: %w", err)
	}

	return report, nil
}

// ListReports returns the session names with a written report.
func (tj *TradeJournal) ListReports() ([]string, error) {
	files, err := os.ReadDir(tj.dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		base := file.Name()
		if len(base) > len("journal_.json") && base[:8] == "journal_" && filepath.Ext(base) == ".json" {
			names = append(names, base[8:len(base)-5])
		}
	}
	sort.Strings(names)

	return names, nil
}

// TradesCSV renders a trade ledger as CSV, oldest fill first.
func (tj *TradeJournal) TradesCSV(trades []Trade) (string, error) {
	rows := make([]*csvTradeRow, 0, len(trades))
	for _, trade := range trades {
		rows = append(rows, &csvTradeRow{
			Timestamp:       trade.Timestamp.Format("2006-01-02 15:04"),
			Contract:        trade.Contract,
			Side:            trade.Side,
			Quantity:        trade.Quantity,
			Price:           trade.Price,
			Commission:      trade.Commission,
			UnderlyingPrice: trade.UnderlyingPrice,
			TotalCost:       trade.TotalCost(),
		})
	}

	out, err := gocsv.MarshalString(&rows)
	if err != nil {
		return "", fmt.Errorf("failed to render trade csv: %w", err)
	}
	return out, nil
}

func blendPrice(avg float64, qty int, price float64, added int) float64 {
	total := qty + added
	if total == 0 {
		return 0
	}
	return (avg*float64(qty) + price*float64(added)) / float64(total)
}
