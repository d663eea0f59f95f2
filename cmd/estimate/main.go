// Command estimate prices a hypothetical order against an order book stored
// in a YAML file, without connecting to a feed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"dex-pricer-go/inventory"
	"dex-pricer-go/market"
	"dex-pricer-go/pricing"
)

// bookFile 离线订单簿文件格式；价格数量均为原始单位字符串。
type bookFile struct {
	MarketID         string        `yaml:"marketId"`
	Type             string        `yaml:"type"`
	PriceDecimals    int32         `yaml:"priceDecimals"`
	QuantityDecimals int32         `yaml:"quantityDecimals"`
	BaseDecimals     int32         `yaml:"baseDecimals"`
	QuoteDecimals    int32         `yaml:"quoteDecimals"`
	Buys             []bookLevel   `yaml:"buys"`
	Sells            []bookLevel   `yaml:"sells"`
	Position         *bookPosition `yaml:"position"`
	// Orders 已挂出的订单；只减仓单的未成交部分占用可减仓数量。
	Orders []bookOrder `yaml:"orders"`
}

// bookPosition 真实单位；空头为负。
type bookPosition struct {
	Quantity string `yaml:"quantity"`
	AvgCost  string `yaml:"avgCost"`
}

type bookOrder struct {
	Hash       string `yaml:"hash"`
	Side       string `yaml:"side"`
	Quantity   string `yaml:"quantity"`
	Filled     string `yaml:"filled"`
	State      string `yaml:"state"`
	ReduceOnly bool   `yaml:"reduceOnly"`
}

type bookLevel struct {
	Price    string `yaml:"price"`
	Quantity string `yaml:"quantity"`
}

type report struct {
	Market                   string `yaml:"market"`
	Side                     string `yaml:"side"`
	Basis                    string `yaml:"basis"`
	Amount                   string `yaml:"amount"`
	FilledBase               string `yaml:"filledBase"`
	FilledNotional           string `yaml:"filledNotional"`
	Exhausted                bool   `yaml:"exhausted"`
	AveragePrice             string `yaml:"averagePrice"`
	WorstPrice               string `yaml:"worstPrice"`
	AveragePriceWithSlippage string `yaml:"averagePriceWithSlippage"`
	WorstPriceWithSlippage   string `yaml:"worstPriceWithSlippage"`
	BookQuantity             string `yaml:"bookQuantity"`
	BookNotional             string `yaml:"bookNotional"`
	MaxReduceOnly            string `yaml:"maxReduceOnly,omitempty"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("estimate: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	bookPath := fs.String("book", "", "订单簿 YAML 文件")
	side := fs.String("side", "buy", "buy 或 sell")
	basis := fs.String("basis", "base", "base 或 quote")
	amount := fs.String("amount", "", "下单数量（按 basis 计价）")
	slippage := fs.String("slippage", "0.5", "滑点百分比，0.5 表示 0.5%")
	trigger := fs.String("trigger", "", "止损触发价（可选）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bookPath == "" {
		return errors.New("-book is required")
	}

	raw, err := os.ReadFile(*bookPath)
	if err != nil {
		return fmt.Errorf("read book: %w", err)
	}
	var bf bookFile
	if err := yaml.Unmarshal(raw, &bf); err != nil {
		return fmt.Errorf("parse book: %w", err)
	}

	intent, err := buildIntent(bf, *side, *basis, *amount, *slippage, *trigger)
	if err != nil {
		return err
	}
	if err := intent.Validate(); err != nil {
		return err
	}

	meta := market.Meta{
		MarketID:         bf.MarketID,
		Type:             market.Type(strings.ToLower(bf.Type)),
		PriceDecimals:    bf.PriceDecimals,
		QuantityDecimals: bf.QuantityDecimals,
		BaseDecimals:     bf.BaseDecimals,
		QuoteDecimals:    bf.QuoteDecimals,
	}
	book := market.NewOrderBook(meta.Scale())
	buys, err := toLevels(bf.Buys)
	if err != nil {
		return err
	}
	sells, err := toLevels(bf.Sells)
	if err != nil {
		return err
	}
	book.Replace(buys, sells)

	inv := loadInventory(bf)
	est := pricing.EstimateOrder(intent, book.Ladder(intent.BookSide(), 0), inv.ReduceOnlyContext(bf.MarketID))

	r := report{
		Market:                   bf.MarketID,
		Side:                     intent.Side.String(),
		Basis:                    intent.Basis.String(),
		Amount:                   intent.Amount.String(),
		FilledBase:               est.Fill.TotalFilledBaseQuantity.String(),
		FilledNotional:           est.Fill.FilledNotional.String(),
		Exhausted:                est.Fill.Exhausted,
		AveragePrice:             est.AveragePrice.String(),
		WorstPrice:               est.WorstPrice.String(),
		AveragePriceWithSlippage: est.AveragePriceWithSlippage.String(),
		WorstPriceWithSlippage:   est.WorstPriceWithSlippage.String(),
		BookQuantity:             est.MaxOnBook.TotalQuantity.String(),
		BookNotional:             est.MaxOnBook.TotalNotional.String(),
	}
	if est.ReduceOnlyApplies {
		r.MaxReduceOnly = est.MaxReduceOnly.String()
	}
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(r)
}

func buildIntent(bf bookFile, side, basis, amount, slippage, trigger string) (pricing.TradeIntent, error) {
	intent := pricing.TradeIntent{
		Amount:            pricing.ParseAmount(amount),
		SlippageTolerance: pricing.ToleranceFromPercent(slippage),
		PriceDecimals:     bf.PriceDecimals,
		QuantityDecimals:  bf.QuantityDecimals,
	}
	switch strings.ToLower(side) {
	case "buy":
		intent.Side = pricing.Buy
	case "sell":
		intent.Side = pricing.Sell
	default:
		return intent, fmt.Errorf("unknown side %q", side)
	}
	switch strings.ToLower(basis) {
	case "base":
		intent.Basis = pricing.Base
	case "quote":
		intent.Basis = pricing.Quote
	default:
		return intent, fmt.Errorf("unknown basis %q", basis)
	}
	if trigger != "" {
		p, err := decimal.NewFromString(trigger)
		if err != nil {
			return intent, fmt.Errorf("trigger %q: %w", trigger, err)
		}
		intent.TriggerPrice = decimal.NewNullDecimal(p)
	}
	if strings.HasPrefix(strings.TrimSpace(slippage), "-") {
		return intent, fmt.Errorf("slippage %s: %w", slippage, pricing.ErrNegativeTolerance)
	}
	return intent, nil
}

// loadInventory 把文件中的持仓与挂单装入仓位簿，与在线会话使用同一套只减仓计算。
func loadInventory(bf bookFile) *inventory.Book {
	inv := inventory.NewBook(nil)
	if bf.Position != nil {
		inv.SetPosition(bf.MarketID, pricing.ParseAmount(bf.Position.Quantity), pricing.ParseAmount(bf.Position.AvgCost))
	}
	orders := make([]inventory.OrderUpdate, 0, len(bf.Orders))
	for i, o := range bf.Orders {
		hash := o.Hash
		if hash == "" {
			hash = fmt.Sprintf("order-%d", i)
		}
		state := inventory.OrderState(o.State)
		if state == "" {
			state = inventory.StateBooked
		}
		orders = append(orders, inventory.OrderUpdate{
			OrderHash:  hash,
			MarketID:   bf.MarketID,
			Side:       o.Side,
			Quantity:   pricing.ParseAmount(o.Quantity),
			Filled:     pricing.ParseAmount(o.Filled),
			State:      state,
			ReduceOnly: o.ReduceOnly,
		})
	}
	inv.ReplaceOrders(orders)
	return inv
}

func toLevels(in []bookLevel) ([]market.Level, error) {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, fmt.Errorf("level price %q: %w", l.Price, err)
		}
		q, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("level quantity %q: %w", l.Quantity, err)
		}
		out = append(out, market.Level{Price: p, Quantity: q})
	}
	return out, nil
}
