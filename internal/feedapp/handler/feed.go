package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketstream.com/internal/feed/client"
	"marketstream.com/internal/feed/event"
	"marketstream.com/internal/feed/protocol"
	"marketstream.com/pkg/common"
)

// Controller 状态服务用到的句柄能力，*client.Handle 满足
type Controller interface {
	Subscribe(ctx context.Context, topics ...protocol.Topic) error
	Unsubscribe(ctx context.Context, topics ...protocol.Topic) error
	Subscriptions() []protocol.Topic
	IsAuthenticated() bool
	ConnID() string
	Stats() client.Stats
}

// LastValues 最新价查询，没开 redis 时为 nil
type LastValues interface {
	Last(ctx context.Context, kind event.Kind, symbol string) (map[string]string, error)
}

type Feed struct {
	ctrl    Controller
	last    LastValues
	timeout time.Duration
}

func NewFeed(ctrl Controller, last LastValues) *Feed {
	return &Feed{ctrl: ctrl, last: last, timeout: 5 * time.Second}
}

type topicsReq struct {
	Topics []string `json:"topics" binding:"required"`
}

type statsResp struct {
	State             string `json:"state"`
	ConnID            string `json:"conn_id"`
	Authenticated     bool   `json:"authenticated"`
	MessageCount      uint64 `json:"message_count"`
	BytesReceived     uint64 `json:"bytes_received"`
	ParseErrors       uint64 `json:"parse_errors"`
	DroppedBatches    uint64 `json:"dropped_batches"`
	ReconnectCount    uint64 `json:"reconnect_count"`
	SubscriptionCount int    `json:"subscription_count"`
	LastMessageAgeMs  int64  `json:"last_message_age_ms"`
}

// Healthz 已鉴权返回 200，否则 503
func (f *Feed) Healthz(c *gin.Context) {
	st := f.ctrl.Stats()
	if !f.ctrl.IsAuthenticated() {
		common.Fail(c, http.StatusServiceUnavailable, common.BizUnavailable, st.State.String())
		return
	}
	common.Success(c, gin.H{"state": st.State.String()})
}

func (f *Feed) Stats(c *gin.Context) {
	st := f.ctrl.Stats()
	common.Success(c, statsResp{
		State:             st.State.String(),
		ConnID:            f.ctrl.ConnID(),
		Authenticated:     f.ctrl.IsAuthenticated(),
		MessageCount:      st.MessageCount,
		BytesReceived:     st.BytesReceived,
		ParseErrors:       st.ParseErrors,
		DroppedBatches:    st.DroppedBatches,
		ReconnectCount:    st.ReconnectCount,
		SubscriptionCount: st.SubscriptionCount,
		LastMessageAgeMs:  st.LastMessageAge.Milliseconds(),
	})
}

func (f *Feed) Subscriptions(c *gin.Context) {
	common.Success(c, topicStrings(f.ctrl.Subscriptions()))
}

func (f *Feed) Subscribe(c *gin.Context)   { f.change(c, f.ctrl.Subscribe) }
func (f *Feed) Unsubscribe(c *gin.Context) { f.change(c, f.ctrl.Unsubscribe) }

func (f *Feed) change(c *gin.Context, fn func(context.Context, ...protocol.Topic) error) {
	var req topicsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailLogged(c, http.StatusBadRequest, common.BizBadRequest, "invalid body", err)
		return
	}
	topics, err := protocol.ParseTopics(req.Topics)
	if err != nil {
		common.FailLogged(c, http.StatusBadRequest, common.BizBadRequest, "invalid topic", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), f.timeout)
	defer cancel()
	if err := fn(ctx, topics...); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, topicStrings(f.ctrl.Subscriptions()))
}

// Last GET /last/:kind/:symbol
func (f *Feed) Last(c *gin.Context) {
	if f.last == nil {
		common.Fail(c, http.StatusNotFound, http.StatusNotFound, "last value cache disabled")
		return
	}
	fields, err := f.last.Last(c.Request.Context(), event.Kind(c.Param("kind")), c.Param("symbol"))
	if err != nil {
		common.FailFromErr(c, errors.Join(errors.New("last value lookup"), err))
		return
	}
	if len(fields) == 0 {
		common.Fail(c, http.StatusNotFound, http.StatusNotFound, "not found")
		return
	}
	common.Success(c, fields)
}

func topicStrings(ts []protocol.Topic) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}
