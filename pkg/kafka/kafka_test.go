package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	fetchErrs int
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	r.mu.Unlock()
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Key: []byte("a"), Value: []byte("ok")},
		kafka.Message{Offset: 2, Key: []byte("b"), Value: []byte("fail")},
		kafka.Message{Offset: 3, Key: []byte("c"), Value: []byte("ok")},
	)
	reader.fetchErrs = 1

	var (
		mu   sync.Mutex
		seen []string
	)
	c := NewConsumerWithReader(reader, "test", func(_ context.Context, key, value []byte) error {
		mu.Lock()
		seen = append(seen, string(key))
		mu.Unlock()
		if string(value) == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 3}, reader.commits(), "failed message stays uncommitted")
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	mu.Unlock()
	assert.True(t, reader.closed)
}

func TestConsumerStopsDuringBackoff(t *testing.T) {
	reader := newFakeReader()
	reader.fetchErrs = 1
	c := NewConsumerWithReader(reader, "test", func(context.Context, []byte, []byte) error { return nil })
	c.backoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "test")

	err := p.PublishBatch(context.Background(), []Event{
		{Key: "1", Value: map[string]string{"op": "index"}},
		{Key: "2", Value: map[string]string{"op": "delete"}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"op":"delete"}`, string(w.msgs[1].Value))

	require.NoError(t, p.Publish(context.Background(), Event{Key: "3", Value: 42}))
	assert.Equal(t, "42", string(w.msgs[2].Value))
}

func TestProducerErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("no leader")}
	p := NewProducerWithWriter(w, "test")
	err := p.Publish(context.Background(), Event{Key: "1", Value: "x"})
	assert.ErrorContains(t, err, "no leader")

	err = NewProducerWithWriter(&fakeWriter{}, "test").Publish(context.Background(), Event{Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling event value")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Op string `json:"op"`
	}
	v, err := DecodeJSON[payload]([]byte(`{"op":"index"}`))
	require.NoError(t, err)
	assert.Equal(t, "index", v.Op)

	_, err = DecodeJSON[payload]([]byte(`{`))
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
