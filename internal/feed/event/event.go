package event

import (
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// Kind 即消息里 ev 字段的取值
type Kind string

const (
	KindStatus          Kind = "status"
	KindTrade           Kind = "T"
	KindQuote           Kind = "Q"
	KindSecondAggregate Kind = "A"
	KindMinuteAggregate Kind = "AM"
	KindLimitUpDown     Kind = "LULD"
	KindFairMarketValue Kind = "FMV"
	KindOrderImbalance  Kind = "NOI"
	KindIndexValue      Kind = "V"
	KindCryptoTrade     Kind = "XT"
	KindCryptoQuote     Kind = "XQ"
	KindCryptoAggregate Kind = "XA"
	KindCryptoL2        Kind = "XL2"
	KindForexQuote      Kind = "C"
	KindForexAggregate  Kind = "CA"
)

// Event 是封闭的和类型：只有本包里的类型能实现它。
// 不认识的 ev 一律解析成 Unknown，服务端新增类型不会让解析失败。
type Event interface {
	Kind() Kind
	isEvent()
}

// Batch 一个入站帧解析出的全部事件；ReceivedAt 带单调时钟读数
type Batch struct {
	Events     []Event
	ReceivedAt time.Time
}

func (b Batch) Len() int { return len(b.Events) }

// Status 连接/鉴权状态消息
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	StatusAuthSuccess = "auth_success"
	StatusAuthFailed  = "auth_failed"
	StatusConnected   = "connected"
)

func (s Status) IsAuthSuccess() bool { return s.Status == StatusAuthSuccess }
func (s Status) IsAuthFailed() bool  { return s.Status == StatusAuthFailed }
func (s Status) IsConnected() bool   { return s.Status == StatusConnected }

// Trade 逐笔成交
type Trade struct {
	Symbol       string  `json:"sym"`
	Exchange     int     `json:"x"`
	ID           string  `json:"i"`
	Tape         int     `json:"z"`
	Price        float64 `json:"p"`
	Size         int64   `json:"s"`
	Conditions   []int32 `json:"c,omitempty"`
	Timestamp    int64   `json:"t"` // SIP 时间，unix ms
	Sequence     int64   `json:"q"`
	TRFID        *int    `json:"trfi,omitempty"`
	TRFTimestamp *int64  `json:"trft,omitempty"`
}

func (t Trade) Value() float64 { return t.Price * float64(t.Size) }

// Notional 价格 × 数量，用 decimal 避免累加时的浮点误差
func (t Trade) Notional() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(t.Size))
}

func (t Trade) Time() time.Time { return time.UnixMilli(t.Timestamp) }

// Quote NBBO 报价
type Quote struct {
	Symbol      string  `json:"sym"`
	BidExchange int     `json:"bx"`
	BidPrice    float64 `json:"bp"`
	BidSize     int64   `json:"bs"`
	AskExchange int     `json:"ax"`
	AskPrice    float64 `json:"ap"`
	AskSize     int64   `json:"as"`
	Condition   int32   `json:"c,omitempty"`
	Timestamp   int64   `json:"t"`
}

func (q Quote) Spread() float64 { return q.AskPrice - q.BidPrice }
func (q Quote) Mid() float64    { return (q.BidPrice + q.AskPrice) / 2 }

// Aggregate 秒级/分钟级 OHLCV
type Aggregate struct {
	Symbol            string  `json:"sym"`
	Volume            int64   `json:"v"`
	AccumulatedVolume int64   `json:"av"`
	OfficialOpen      float64 `json:"op"`
	VWAP              float64 `json:"vw"`
	Open              float64 `json:"o"`
	Close             float64 `json:"c"`
	High              float64 `json:"h"`
	Low               float64 `json:"l"`
	DayVWAP           float64 `json:"a"`
	AvgTradeSize      int64   `json:"z"`
	Start             int64   `json:"s"`
	End               int64   `json:"e"`
	OTC               bool    `json:"otc,omitempty"`
}

func (a Aggregate) Range() float64 { return a.High - a.Low }
func (a Aggregate) IsGreen() bool  { return a.Close > a.Open }
func (a Aggregate) IsRed() bool    { return a.Close < a.Open }

type SecondAggregate struct{ Aggregate }

type MinuteAggregate struct{ Aggregate }

// LimitUpDown 涨跌停价格带
type LimitUpDown struct {
	Symbol     string  `json:"sym"`
	HighPrice  float64 `json:"high_price"`
	LowPrice   float64 `json:"low_price"`
	Indicators []int32 `json:"indicators,omitempty"`
	Tape       int     `json:"tape"`
	Timestamp  int64   `json:"t"`
}

type FairMarketValue struct {
	Symbol    string  `json:"sym"`
	FMV       float64 `json:"fmv"`
	Timestamp int64   `json:"t"`
}

// OrderImbalance 集合竞价不平衡
type OrderImbalance struct {
	Symbol          string   `json:"sym"`
	Timestamp       int64    `json:"t"`
	AuctionType     string   `json:"auction_type,omitempty"`
	PairedShares    *int64   `json:"paired_shares,omitempty"`
	ImbalanceShares *int64   `json:"imbalance_shares,omitempty"`
	ImbalanceSide   string   `json:"imbalance_side,omitempty"`
	ReferencePrice  *float64 `json:"reference_price,omitempty"`
	NearPrice       *float64 `json:"near_price,omitempty"`
	FarPrice        *float64 `json:"far_price,omitempty"`
}

// ImbalancePercent 不平衡股数占已配对股数的百分比；缺数据时 ok=false
func (o OrderImbalance) ImbalancePercent() (pct float64, ok bool) {
	if o.ImbalanceShares == nil || o.PairedShares == nil || *o.PairedShares <= 0 {
		return 0, false
	}
	return float64(*o.ImbalanceShares) / float64(*o.PairedShares) * 100, true
}

type IndexValue struct {
	Symbol    string  `json:"sym"`
	Value     float64 `json:"val"`
	Timestamp int64   `json:"t"`
}

type CryptoTrade struct {
	Pair       string  `json:"pair"`
	Price      float64 `json:"p"`
	Size       float64 `json:"s"`
	Exchange   int     `json:"x"`
	Timestamp  int64   `json:"t"`
	Conditions []int32 `json:"c,omitempty"`
	ID         string  `json:"i,omitempty"`
}

func (t CryptoTrade) Value() float64 { return t.Price * t.Size }

type CryptoQuote struct {
	Pair      string  `json:"pair"`
	BidPrice  float64 `json:"bp"`
	BidSize   float64 `json:"bs"`
	AskPrice  float64 `json:"ap"`
	AskSize   float64 `json:"as"`
	Exchange  int     `json:"x"`
	Timestamp int64   `json:"t"`
}

func (q CryptoQuote) Spread() float64 { return q.AskPrice - q.BidPrice }
func (q CryptoQuote) Mid() float64    { return (q.BidPrice + q.AskPrice) / 2 }

func (q CryptoQuote) SpreadPercent() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / mid * 100
}

type CryptoAggregate struct {
	Pair   string   `json:"pair"`
	Open   float64  `json:"o"`
	High   float64  `json:"h"`
	Low    float64  `json:"l"`
	Close  float64  `json:"c"`
	Volume float64  `json:"v"`
	VWAP   *float64 `json:"vw,omitempty"`
	Start  int64    `json:"s"`
	End    int64    `json:"e"`
}

func (a CryptoAggregate) Range() float64 { return a.High - a.Low }
func (a CryptoAggregate) IsGreen() bool  { return a.Close > a.Open }

type Level struct {
	Price float64 `json:"p"`
	Size  float64 `json:"s"`
}

// CryptoL2 盘口快照，Bids/Asks 按最优价在前
type CryptoL2 struct {
	Pair      string  `json:"pair"`
	Bids      []Level `json:"b,omitempty"`
	Asks      []Level `json:"a,omitempty"`
	Timestamp int64   `json:"t"`
	Exchange  *int    `json:"x,omitempty"`
}

func (l CryptoL2) BestBid() (float64, bool) {
	if len(l.Bids) == 0 {
		return 0, false
	}
	return l.Bids[0].Price, true
}

func (l CryptoL2) BestAsk() (float64, bool) {
	if len(l.Asks) == 0 {
		return 0, false
	}
	return l.Asks[0].Price, true
}

func (l CryptoL2) Spread() (float64, bool) {
	bid, ok1 := l.BestBid()
	ask, ok2 := l.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return ask - bid, true
}

// ForexQuote 注意线上 p 是货币对，a/b 是卖/买价
type ForexQuote struct {
	Pair      string  `json:"p"`
	Ask       float64 `json:"a"`
	Bid       float64 `json:"b"`
	Timestamp int64   `json:"t"`
	Exchange  *int    `json:"x,omitempty"`
}

func (q ForexQuote) Spread() float64 { return q.Ask - q.Bid }
func (q ForexQuote) Mid() float64    { return (q.Ask + q.Bid) / 2 }

// SpreadPips 标准货币对 1 pip = 0.0001，JPY 货币对传 jpy=true（1 pip = 0.01）
func (q ForexQuote) SpreadPips(jpy bool) float64 {
	if jpy {
		return q.Spread() * 100
	}
	return q.Spread() * 10000
}

type ForexAggregate struct {
	Pair   string  `json:"pair"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	Start  int64   `json:"s"`
	End    int64   `json:"e"`
}

// Unknown 兜底类型，保留原始 ev 和 JSON
type Unknown struct {
	Ev  string
	Raw json.RawMessage
}

func (Status) Kind() Kind          { return KindStatus }
func (Trade) Kind() Kind           { return KindTrade }
func (Quote) Kind() Kind           { return KindQuote }
func (SecondAggregate) Kind() Kind { return KindSecondAggregate }
func (MinuteAggregate) Kind() Kind { return KindMinuteAggregate }
func (LimitUpDown) Kind() Kind     { return KindLimitUpDown }
func (FairMarketValue) Kind() Kind { return KindFairMarketValue }
func (OrderImbalance) Kind() Kind  { return KindOrderImbalance }
func (IndexValue) Kind() Kind      { return KindIndexValue }
func (CryptoTrade) Kind() Kind     { return KindCryptoTrade }
func (CryptoQuote) Kind() Kind     { return KindCryptoQuote }
func (CryptoAggregate) Kind() Kind { return KindCryptoAggregate }
func (CryptoL2) Kind() Kind        { return KindCryptoL2 }
func (ForexQuote) Kind() Kind      { return KindForexQuote }
func (ForexAggregate) Kind() Kind  { return KindForexAggregate }
func (u Unknown) Kind() Kind       { return Kind(u.Ev) }

func (Status) isEvent()          {}
func (Trade) isEvent()           {}
func (Quote) isEvent()           {}
func (SecondAggregate) isEvent() {}
func (MinuteAggregate) isEvent() {}
func (LimitUpDown) isEvent()     {}
func (FairMarketValue) isEvent() {}
func (OrderImbalance) isEvent()  {}
func (IndexValue) isEvent()      {}
func (CryptoTrade) isEvent()     {}
func (CryptoQuote) isEvent()     {}
func (CryptoAggregate) isEvent() {}
func (CryptoL2) isEvent()        {}
func (ForexQuote) isEvent()      {}
func (ForexAggregate) isEvent()  {}
func (Unknown) isEvent()         {}

// SymbolOf 取事件的标的（股票代码或货币对），状态和未知事件返回空
func SymbolOf(e Event) string {
	switch v := e.(type) {
	case Trade:
		return v.Symbol
	case Quote:
		return v.Symbol
	case SecondAggregate:
		return v.Symbol
	case MinuteAggregate:
		return v.Symbol
	case LimitUpDown:
		return v.Symbol
	case FairMarketValue:
		return v.Symbol
	case OrderImbalance:
		return v.Symbol
	case IndexValue:
		return v.Symbol
	case CryptoTrade:
		return v.Pair
	case CryptoQuote:
		return v.Pair
	case CryptoAggregate:
		return v.Pair
	case CryptoL2:
		return v.Pair
	case ForexQuote:
		return v.Pair
	case ForexAggregate:
		return v.Pair
	default:
		return ""
	}
}
