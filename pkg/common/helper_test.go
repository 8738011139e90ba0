package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"marketstream.com/pkg/xerr"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		biz    int
	}{
		{"plain", errors.New("x"), http.StatusInternalServerError, BizInternal},
		{"bad topics", xerr.Wrap(errors.New("no topics"), xerr.SubscriptionFailed, "subscribe"), http.StatusBadRequest, BizBadRequest},
		{"closed", xerr.NewErrCode(xerr.Closed), http.StatusServiceUnavailable, BizUnavailable},
		{"timeout", xerr.New(xerr.Timeout, "slow"), http.StatusGatewayTimeout, BizTimeout},
		{"auth", xerr.New(xerr.AuthFailed, "bad key"), http.StatusBadGateway, BizUpstreamAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, biz, _ := MapErr(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.biz, biz)
		})
	}
}
