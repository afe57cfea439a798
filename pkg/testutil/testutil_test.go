package testutil

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshiapp/toshi-auth-go/pkg/headers"
)

func TestKnownIdentities(t *testing.T) {
	c := AbandonCereal(t)
	assert.Equal(t, AbandonIdentityAddress, c.Address())
	assert.Equal(t, AbandonPaymentAddress, c.PaymentAddress())

	assert.Equal(t, LegalWinnerIdentityAddress, CreateTestCereal(t, LegalWinnerMnemonic).Address())
	assert.Len(t, Words(AbandonMnemonic), 12)
}

func TestTestService_RecordsAcceptedRequests(t *testing.T) {
	ts := NewTestService(t, TestServiceConfig{})
	c := AbandonCereal(t)

	m, err := headers.DataHeaders(c, http.MethodPost, "/v1/echo?x=1", strconv.FormatInt(time.Now().Unix(), 10), []byte("hello"))
	require.NoError(t, err)

	send := func() int {
		req, err := http.NewRequest(http.MethodPost, ts.URL()+"/v1/echo?x=1", strings.NewReader("hello"))
		require.NoError(t, err)
		m.Apply(req.Header)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusOK {
			assert.Equal(t, AbandonIdentityAddress, string(body))
		}
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusUnauthorized, send())

	reqs := ts.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/echo?x=1", reqs[0].Path)
	assert.Equal(t, []byte("hello"), reqs[0].Body)
	assert.Equal(t, AbandonIdentityAddress, reqs[0].Address)
}
