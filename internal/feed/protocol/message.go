package protocol

import (
	"errors"

	"github.com/segmentio/encoding/json"
)

type Action string

const (
	ActionAuth        Action = "auth"
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

var ErrNoTopics = errors.New("no topics")

// ControlMessage 客户端发往服务端的控制消息
//
//	{"action":"subscribe","params":"T.AAPL,Q.MSFT"}
type ControlMessage struct {
	Action Action `json:"action"`
	Params string `json:"params"`
}

// EncodeAuth 鉴权消息，params 为 API key 明文，只在写 socket 时出现
func EncodeAuth(secret string) ([]byte, error) {
	return json.Marshal(ControlMessage{Action: ActionAuth, Params: secret})
}

func EncodeSubscribe(topics []Topic) ([]byte, error) {
	return encodeTopics(ActionSubscribe, topics)
}

func EncodeUnsubscribe(topics []Topic) ([]byte, error) {
	return encodeTopics(ActionUnsubscribe, topics)
}

func encodeTopics(action Action, topics []Topic) ([]byte, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	return json.Marshal(ControlMessage{Action: action, Params: JoinTopics(topics)})
}
