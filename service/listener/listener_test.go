package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brojonat/stellarpay/service/stellar"
	"github.com/redis/go-redis/v9"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream pushes its messages and transport errors, then holds the
// connection open until the context ends.
type fakeStream struct {
	messages [][]byte
	errs     []error
	calls    atomic.Int32
}

func (f *fakeStream) StreamPayments(ctx context.Context, address, cursor string, onMessage func([]byte), onError func(error)) error {
	f.calls.Add(1)
	for _, err := range f.errs {
		onError(&stellar.StreamError{Address: address, Err: err})
	}
	for _, m := range f.messages {
		onMessage(m)
	}
	<-ctx.Done()
	return nil
}

// fakeEnricher returns a memo per hash, optionally after a delay.
type fakeEnricher struct {
	delays map[string]time.Duration
	fail   map[string]error
	mu     sync.Mutex
	seen   []string
}

func (f *fakeEnricher) Enrich(ctx context.Context, op stellar.OperationRecord) (*stellar.Transaction, error) {
	f.mu.Lock()
	f.seen = append(f.seen, op.TransactionHash)
	f.mu.Unlock()

	if d, ok := f.delays[op.TransactionHash]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.fail[op.TransactionHash]; ok {
		return nil, err
	}
	return &stellar.Transaction{TransactionHash: op.TransactionHash, Memo: "memo-" + op.TransactionHash}, nil
}

func paymentJSON(id, hash string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"paging_token":%q,"type":"payment","transaction_hash":%q,"source_account":"GSRC","to":"GDST","amount":"1.5","created_at":"2024-03-01T12:00:00Z"}`, id, id, hash))
}

func receive(t *testing.T, sub *Subscription) stellar.PaymentEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stellar.PaymentEvent{}
}

func TestListen_DeliversEnrichedEvent(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{paymentJSON("1", "ABC123")}}
	l := NewListener(stream, &fakeEnricher{}, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	ev := receive(t, sub)
	assert.Equal(t, address, ev.Address)
	assert.Equal(t, "abc123", ev.TransactionHash)
	assert.Equal(t, "memo-ABC123", ev.Memo)
	assert.Equal(t, "GDST", ev.Destination)
	assert.Equal(t, "1.5", ev.Amount)
}

func TestListen_MalformedNotificationIsDropped(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{
		[]byte(`{not json`),
		paymentJSON("2", "good"),
	}}
	l := NewListener(stream, &fakeEnricher{}, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	ev := receive(t, sub)
	assert.Equal(t, "good", ev.TransactionHash)

	select {
	case err := <-sub.Errors():
		var eerr *stellar.EnrichmentError
		assert.ErrorAs(t, err, &eerr)
	case <-time.After(time.Second):
		t.Fatal("expected an enrichment error")
	}
}

func TestListen_EnrichmentFailureIsDropped(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{
		paymentJSON("1", "bad"),
		paymentJSON("2", "good"),
	}}
	enricher := &fakeEnricher{fail: map[string]error{"bad": errors.New("horizon 500")}}
	l := NewListener(stream, enricher, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	ev := receive(t, sub)
	assert.Equal(t, "good", ev.TransactionHash)
}

func TestListen_PreservesArrivalOrder(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{
		paymentJSON("1", "slow"),
		paymentJSON("2", "fast"),
		paymentJSON("3", "faster"),
	}}
	enricher := &fakeEnricher{delays: map[string]time.Duration{"slow": 100 * time.Millisecond}}
	l := NewListener(stream, enricher, Options{Concurrency: 3}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	var got []string
	for range 3 {
		got = append(got, receive(t, sub).TransactionHash)
	}
	assert.Equal(t, []string{"slow", "fast", "faster"}, got)
}

func TestListen_UnsupportedOperationSkipsFetch(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{
		[]byte(`{"id":"1","type":"account_merge","transaction_hash":"merge","into":"GX"}`),
		paymentJSON("2", "good"),
	}}
	enricher := &fakeEnricher{}
	l := NewListener(stream, enricher, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	assert.Equal(t, "good", receive(t, sub).TransactionHash)

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	assert.Equal(t, []string{"good"}, enricher.seen)
}

func TestListen_TransportErrorsAreReported(t *testing.T) {
	address := keypair.MustRandom().Address()
	stream := &fakeStream{
		errs:     []error{errors.New("connection reset")},
		messages: [][]byte{paymentJSON("1", "after")},
	}
	l := NewListener(stream, &fakeEnricher{}, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	var serr *stellar.StreamError
	require.ErrorAs(t, <-sub.Errors(), &serr)
	assert.Equal(t, "after", receive(t, sub).TransactionHash)
}

func TestListen_InvalidAddressDoesNotConnect(t *testing.T) {
	stream := &fakeStream{}
	l := NewListener(stream, &fakeEnricher{}, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), "GNOTANADDRESS")
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, stellar.ErrInvalidAddress)
	assert.Zero(t, stream.calls.Load())
}

func TestSubscription_StopClosesChannels(t *testing.T) {
	address := keypair.MustRandom().Address()
	enricher := &fakeEnricher{delays: map[string]time.Duration{"stuck": time.Hour}}
	stream := &fakeStream{messages: [][]byte{paymentJSON("1", "stuck")}}
	l := NewListener(stream, enricher, Options{}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		sub.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	_, ok := <-sub.Events()
	assert.False(t, ok)
	<-sub.Done()
}

func TestListen_DeadLettersDroppedNotifications(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	dlq := NewDeadLetterQueue(client, "", nil)

	address := keypair.MustRandom().Address()
	stream := &fakeStream{messages: [][]byte{
		[]byte(`garbage`),
		paymentJSON("2", "good"),
	}}
	l := NewListener(stream, &fakeEnricher{}, Options{DeadLetters: dlq}, nil, nil)

	sub, err := l.Listen(context.Background(), address)
	require.NoError(t, err)
	defer sub.Stop()

	receive(t, sub)

	require.Eventually(t, func() bool {
		letters, err := dlq.List(context.Background(), 10)
		return err == nil && len(letters) == 1
	}, 2*time.Second, 10*time.Millisecond)

	letters, err := dlq.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, address, letters[0].Address)
	assert.JSONEq(t, `"garbage"`, string(letters[0].Payload))
	assert.NotEmpty(t, letters[0].Error)
}
