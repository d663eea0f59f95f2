package market

import "sync"

// Type 市场类型。
type Type string

const (
	Spot       Type = "spot"
	Derivative Type = "derivative"
)

// Meta 市场精度元数据，由配置提供。
type Meta struct {
	MarketID         string
	Type             Type
	PriceDecimals    int32
	QuantityDecimals int32
	BaseDecimals     int32
	QuoteDecimals    int32
}

// Scale 返回该市场的原始精度换算；衍生品数量本身就是真实单位。
func (m Meta) Scale() Scale {
	if m.Type == Derivative {
		return Scale{QuoteDecimals: m.QuoteDecimals}
	}
	return Scale{BaseDecimals: m.BaseDecimals, QuoteDecimals: m.QuoteDecimals}
}

// Catalog 保存市场元数据，支持配置热更新时整体替换。
type Catalog struct {
	mu    sync.RWMutex
	metas map[string]Meta
}

func NewCatalog(metas ...Meta) *Catalog {
	c := &Catalog{metas: make(map[string]Meta, len(metas))}
	for _, m := range metas {
		c.metas[m.MarketID] = m
	}
	return c
}

func (c *Catalog) Get(marketID string) (Meta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metas[marketID]
	return m, ok
}

// Replace 整体替换元数据。
func (c *Catalog) Replace(metas []Meta) {
	next := make(map[string]Meta, len(metas))
	for _, m := range metas {
		next[m.MarketID] = m
	}
	c.mu.Lock()
	c.metas = next
	c.mu.Unlock()
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metas)
}
