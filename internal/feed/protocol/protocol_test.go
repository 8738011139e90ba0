package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicConstructors(t *testing.T) {
	assert.Equal(t, Topic("T.AAPL"), Trade("AAPL"))
	assert.Equal(t, Topic("Q.MSFT"), Quote("MSFT"))
	assert.Equal(t, Topic("A.TSLA"), SecondAgg("TSLA"))
	assert.Equal(t, Topic("AM.TSLA"), MinuteAgg("TSLA"))

	assert.Equal(t, "T.*", AllTrades().String())
	assert.Equal(t, "Q.*", AllQuotes().String())
	assert.Equal(t, "A.*", AllSecondAggs().String())
	assert.Equal(t, "AM.*", AllMinuteAggs().String())
	assert.Equal(t, "LULD.AAPL", Raw("LULD.AAPL").String())
}

func TestTopicAccessors(t *testing.T) {
	tp := MinuteAgg("NVDA")
	assert.Equal(t, "AM", tp.Kind())
	assert.Equal(t, "NVDA", tp.Symbol())
	assert.False(t, tp.IsWildcard())
	assert.True(t, AllQuotes().IsWildcard())

	// 相等即字符串相等，可以直接做 map key
	set := map[Topic]struct{}{Trade("AAPL"): {}}
	_, ok := set[Topic("T.AAPL")]
	assert.True(t, ok)
}

func TestParseTopic(t *testing.T) {
	cases := []struct {
		in   string
		want Topic
		err  error
	}{
		{in: "T.AAPL", want: "T.AAPL"},
		{in: "  AM.* ", want: "AM.*"},
		{in: "XT.BTC-USD", want: "XT.BTC-USD"},
		{in: "", err: ErrEmptyTopic},
		{in: "AAPL", err: ErrTopicFormat},
		{in: ".AAPL", err: ErrTopicFormat},
		{in: "T.", err: ErrTopicFormat},
		{in: "T.AAPL,Q.MSFT", err: ErrTopicCharset},
		{in: "T.AA PL", err: ErrTopicCharset},
	}
	for _, c := range cases {
		got, err := ParseTopic(c.in)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got)
	}

	_, err := ParseTopics([]string{"T.AAPL", "bad"})
	assert.ErrorIs(t, err, ErrTopicFormat)
}

func TestEncodeMessages(t *testing.T) {
	b, err := EncodeAuth("my-api-key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"auth","params":"my-api-key"}`, string(b))

	b, err = EncodeSubscribe([]Topic{Trade("AAPL"), Quote("MSFT")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"subscribe","params":"T.AAPL,Q.MSFT"}`, string(b))

	b, err = EncodeUnsubscribe([]Topic{Quote("GOOG")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"unsubscribe","params":"Q.GOOG"}`, string(b))

	_, err = EncodeSubscribe(nil)
	assert.ErrorIs(t, err, ErrNoTopics)
}
