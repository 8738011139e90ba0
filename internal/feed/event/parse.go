package event

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/segmentio/encoding/json"
)

// 错误里最多带这么多字节的原文，避免大消息把日志撑爆
const previewLimit = 100

var errEmpty = errors.New("empty message")

// ParseError 解析失败；Preview 是截断后的原文
type ParseError struct {
	Preview string
	Size    int
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed message (%d bytes): %v, preview %q", e.Size, e.Err, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(text []byte, err error) *ParseError {
	return &ParseError{Preview: preview(text), Size: len(text), Err: err}
}

func preview(text []byte) string {
	if len(text) <= previewLimit {
		return string(text)
	}
	cut := previewLimit
	// 不在多字节字符中间截断
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return string(text[:cut])
}

type envelope struct {
	Ev string `json:"ev"`
}

// Parse 把一个文本帧解析成有序事件列表。
// 以 [ 开头按数组解析，否则按单个对象解析并包成一个元素。
func Parse(text []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 {
		return nil, newParseError(text, errEmpty)
	}

	if trimmed[0] != '[' {
		e, err := decodeOne(trimmed)
		if err != nil {
			return nil, newParseError(trimmed, err)
		}
		return []Event{e}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, newParseError(trimmed, err)
	}
	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		e, err := decodeOne(raw)
		if err != nil {
			return nil, newParseError(trimmed, fmt.Errorf("element %d: %w", i, err))
		}
		events = append(events, e)
	}
	return events, nil
}

func decodeOne(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	switch Kind(env.Ev) {
	case KindStatus:
		return decodeAs[Status](raw)
	case KindTrade:
		return decodeAs[Trade](raw)
	case KindQuote:
		return decodeAs[Quote](raw)
	case KindSecondAggregate:
		return decodeAs[SecondAggregate](raw)
	case KindMinuteAggregate:
		return decodeAs[MinuteAggregate](raw)
	case KindLimitUpDown:
		return decodeAs[LimitUpDown](raw)
	case KindFairMarketValue:
		return decodeAs[FairMarketValue](raw)
	case KindOrderImbalance:
		return decodeAs[OrderImbalance](raw)
	case KindIndexValue:
		return decodeAs[IndexValue](raw)
	case KindCryptoTrade:
		return decodeAs[CryptoTrade](raw)
	case KindCryptoQuote:
		return decodeAs[CryptoQuote](raw)
	case KindCryptoAggregate:
		return decodeAs[CryptoAggregate](raw)
	case KindCryptoL2:
		return decodeAs[CryptoL2](raw)
	case KindForexQuote:
		return decodeAs[ForexQuote](raw)
	case KindForexAggregate:
		return decodeAs[ForexAggregate](raw)
	default:
		// raw 可能指向调用方复用的读缓冲，拷贝一份
		return Unknown{Ev: env.Ev, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Marshal 重新编码事件，补回 ev 字段；Unknown 原样返回
func Marshal(e Event) ([]byte, error) {
	if u, ok := e.(Unknown); ok && len(u.Raw) > 0 {
		return u.Raw, nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	ev, err := json.Marshal(string(e.Kind()))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(ev)+8)
	out = append(out, `{"ev":`...)
	out = append(out, ev...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// EstimateEventCount 不做完整解析，数数组第一层的对象个数，用来预分配
func EstimateEventCount(text []byte) int {
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return 1
	}

	depth, count := 0, 0
	inString, escaped := false, false
	for _, c := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			if depth == 1 && c == '{' {
				count++
			}
			depth++
		case ']', '}':
			depth--
		}
	}
	return max(count, 1)
}

var (
	statusCompact = []byte(`"ev":"status"`)
	statusSpaced  = []byte(`"ev": "status"`)
)

// IsStatusMessage 快速判断是否含状态消息
func IsStatusMessage(text []byte) bool {
	return bytes.Contains(text, statusCompact) || bytes.Contains(text, statusSpaced)
}

// ExtractEventType 不解析 JSON，直接找第一个 ev 的取值
func ExtractEventType(text []byte) (string, bool) {
	for _, pattern := range [][]byte{[]byte(`"ev":"`), []byte(`"ev": "`)} {
		start := bytes.Index(text, pattern)
		if start < 0 {
			continue
		}
		rest := text[start+len(pattern):]
		end := bytes.IndexByte(rest, '"')
		if end < 0 {
			return "", false
		}
		return string(rest[:end]), true
	}
	return "", false
}
