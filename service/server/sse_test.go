package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	natspkg "github.com/brojonat/stellarpay/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed replays a fixed set of events and then closes the channel.
type fakeFeed struct {
	events   []*natspkg.PaymentEvent
	err      error
	subjects []string
}

func (f *fakeFeed) Subscribe(ctx context.Context, subject string) (<-chan *natspkg.PaymentEvent, error) {
	f.subjects = append(f.subjects, subject)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *natspkg.PaymentEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func streamRequest(feed PaymentFeed, target, address string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if address != "" {
		req.SetPathValue("address", address)
	}
	rec := httptest.NewRecorder()
	handleStreamPayments(feed, nil, testLogger).ServeHTTP(rec, req)
	return rec
}

func TestStreamPayments_Address(t *testing.T) {
	feed := &fakeFeed{events: []*natspkg.PaymentEvent{
		{Address: testDestination, TransactionHash: "aaa", OperationID: "1", Amount: "5", Memo: testMemo},
		{Address: testDestination, TransactionHash: "bbb", OperationID: "2", Amount: "7", Memo: "other-memo-0001"},
	}}

	rec := streamRequest(feed, "/api/v1/stream/payments/"+testDestination, testDestination)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{natspkg.Subject(testDestination)}, feed.subjects)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\n"))
	assert.Equal(t, 2, strings.Count(body, "event: payment\n"))
	assert.Contains(t, body, "id: "+testDestination+":aaa:1\n")
	assert.Contains(t, body, `"transaction_hash":"bbb"`)
}

func TestStreamPayments_MemoFilter(t *testing.T) {
	feed := &fakeFeed{events: []*natspkg.PaymentEvent{
		{Address: testDestination, TransactionHash: "aaa", Memo: "other-memo-0001"},
		{Address: testDestination, TransactionHash: "bbb", Memo: testMemo},
	}}

	rec := streamRequest(feed, "/api/v1/stream/payments?memo="+testMemo, "")

	assert.Equal(t, []string{natspkg.StreamSubjects}, feed.subjects)
	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: payment\n"))
	assert.Contains(t, body, `"transaction_hash":"bbb"`)
	assert.NotContains(t, body, `"transaction_hash":"aaa"`)
}

func TestStreamPayments_InvalidAddress(t *testing.T) {
	feed := &fakeFeed{}
	rec := streamRequest(feed, "/api/v1/stream/payments/nope", "nope")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, feed.subjects)
}

func TestStreamPayments_FeedUnavailable(t *testing.T) {
	feed := &fakeFeed{err: errors.New("nats down")}
	rec := streamRequest(feed, "/api/v1/stream/payments", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerHandler_StreamRoutes(t *testing.T) {
	feed := &fakeFeed{events: []*natspkg.PaymentEvent{{Address: testDestination, TransactionHash: "aaa"}}}
	srv := New(":0", Deps{
		Submitter:    &mockSubmitter{},
		Transactions: &mockLookup{},
		Balances:     &mockLookup{},
		Feed:         feed,
	}, "dev", testLogger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream/payments/" + testDestination)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{natspkg.Subject(testDestination)}, feed.subjects)
}
