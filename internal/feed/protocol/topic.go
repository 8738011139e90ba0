package protocol

import (
	"errors"
	"strings"
)

// Topic 订阅目标，格式 {kind}.{symbol}，symbol 为 * 表示该类型全部标的
type Topic string

// 常用的订阅类型前缀
const (
	KindTrade     = "T"
	KindQuote     = "Q"
	KindSecondAgg = "A"
	KindMinuteAgg = "AM"
	KindLULD      = "LULD"
	KindFMV       = "FMV"
	Wildcard      = "*"
)

var (
	ErrEmptyTopic   = errors.New("topic is empty")
	ErrTopicFormat  = errors.New("topic must be KIND.SYMBOL")
	ErrTopicCharset = errors.New("topic contains whitespace or comma")
)

func Trade(symbol string) Topic     { return build(KindTrade, symbol) }
func Quote(symbol string) Topic     { return build(KindQuote, symbol) }
func SecondAgg(symbol string) Topic { return build(KindSecondAgg, symbol) }
func MinuteAgg(symbol string) Topic { return build(KindMinuteAgg, symbol) }

func AllTrades() Topic     { return Trade(Wildcard) }
func AllQuotes() Topic     { return Quote(Wildcard) }
func AllSecondAggs() Topic { return SecondAgg(Wildcard) }
func AllMinuteAggs() Topic { return MinuteAgg(Wildcard) }

// Raw 不校验，用于不常见的订阅类型（LULD.AAPL、XT.BTC-USD ...）
func Raw(s string) Topic { return Topic(s) }

func build(kind, symbol string) Topic { return Topic(kind + "." + symbol) }

// ParseTopic 校验 KIND "." (SYMBOL | "*")
func ParseTopic(s string) (Topic, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyTopic
	}
	if strings.ContainsAny(s, " \t\r\n,") {
		return "", ErrTopicCharset
	}
	kind, sym, ok := strings.Cut(s, ".")
	if !ok || kind == "" || sym == "" {
		return "", ErrTopicFormat
	}
	return Topic(s), nil
}

// ParseTopics 批量解析，遇到第一个非法值即返回
func ParseTopics(ss []string) ([]Topic, error) {
	out := make([]Topic, 0, len(ss))
	for _, s := range ss {
		t, err := ParseTopic(s)
		if err != nil {
			return nil, errors.Join(err, errors.New("topic "+s))
		}
		out = append(out, t)
	}
	return out, nil
}

func (t Topic) String() string { return string(t) }

func (t Topic) Kind() string {
	k, _, _ := strings.Cut(string(t), ".")
	return k
}

func (t Topic) Symbol() string {
	_, s, _ := strings.Cut(string(t), ".")
	return s
}

func (t Topic) IsWildcard() bool { return t.Symbol() == Wildcard }

// JoinTopics 按传入顺序逗号拼接，即线上 params 字段
func JoinTopics(topics []Topic) string {
	switch len(topics) {
	case 0:
		return ""
	case 1:
		return string(topics[0])
	}
	var b strings.Builder
	for i, t := range topics {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(t))
	}
	return b.String()
}
