package market

import "sync"

// Publisher 一个轻量事件分发器；订阅者处理不过来时丢弃（不阻塞 feed）。
type Publisher struct {
	mu       sync.RWMutex
	bookSubs []chan Snapshot
	tradeSub []chan Trade
}

func NewPublisher() *Publisher {
	return &Publisher{
		bookSubs: make([]chan Snapshot, 0),
		tradeSub: make([]chan Trade, 0),
	}
}

func (p *Publisher) SubscribeBook() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.bookSubs = append(p.bookSubs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Publisher) SubscribeTrade() <-chan Trade {
	ch := make(chan Trade, 16)
	p.mu.Lock()
	p.tradeSub = append(p.tradeSub, ch)
	p.mu.Unlock()
	return ch
}

func (p *Publisher) PublishBook(s Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.bookSubs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (p *Publisher) PublishTrade(t Trade) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.tradeSub {
		select {
		case ch <- t:
		default:
		}
	}
}
