package stream

import (
	"errors"
	"fmt"
)

var ErrEmptyScope = errors.New("scope id must not be empty")

// Scope 订阅范围，封闭的标记联合：MarketScope / SubaccountScope / SubaccountMarketScope。
type Scope interface {
	MarketID() string
	SubaccountID() string
	String() string
	validate() error
}

// MarketScope 单个市场的公共数据。
type MarketScope struct{ Market string }

func (s MarketScope) MarketID() string     { return s.Market }
func (s MarketScope) SubaccountID() string { return "" }
func (s MarketScope) String() string       { return "market=" + s.Market }
func (s MarketScope) validate() error {
	if s.Market == "" {
		return ErrEmptyScope
	}
	return nil
}

// SubaccountScope 子账户在所有市场的数据。
type SubaccountScope struct{ Subaccount string }

func (s SubaccountScope) MarketID() string     { return "" }
func (s SubaccountScope) SubaccountID() string { return s.Subaccount }
func (s SubaccountScope) String() string       { return "subaccount=" + s.Subaccount }
func (s SubaccountScope) validate() error {
	if s.Subaccount == "" {
		return ErrEmptyScope
	}
	return nil
}

// SubaccountMarketScope 子账户在单个市场的数据。
type SubaccountMarketScope struct {
	Subaccount string
	Market     string
}

func (s SubaccountMarketScope) MarketID() string     { return s.Market }
func (s SubaccountMarketScope) SubaccountID() string { return s.Subaccount }
func (s SubaccountMarketScope) String() string {
	return fmt.Sprintf("subaccount=%s market=%s", s.Subaccount, s.Market)
}
func (s SubaccountMarketScope) validate() error {
	if s.Subaccount == "" || s.Market == "" {
		return ErrEmptyScope
	}
	return nil
}
