package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	published []publishedMessage
	err       error
	stopped   bool
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{topic: topic, body: body})
	return nil
}

func (p *fakePublisher) Stop() { p.stopped = true }

func newTestConsumer(t *testing.T, handler HandlerFunc) (*Consumer, *fakePublisher) {
	t.Helper()
	consumer, err := NewConsumer(ConsumerConfig{
		Topic:                "radio.inbound",
		Channel:              "radiod",
		NsqdAddresses:        []string{"127.0.0.1:4150"},
		DLQTopic:             "radio.inbound.dlq",
		MaxAttemptsBeforeDLQ: 3,
		Handler:              handler,
	})
	require.NoError(t, err)
	dlq := &fakePublisher{}
	consumer.dlq = dlq
	return consumer, dlq
}

func message(t *testing.T, event Event, attempts uint16) *nsq.Message {
	t.Helper()
	body, err := Encode(event)
	require.NoError(t, err)
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	msg := nsq.NewMessage(id, body)
	msg.Attempts = attempts
	return msg
}

func TestEvent_DecodeAndFields(t *testing.T) {
	in := New(KindCallIncoming, "AA:BB:CC:DD:EE:FF", map[string]any{"number": "+15551234", "bars": 4, "roaming": true})
	require.NotEmpty(t, in.ID)

	body, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, KindCallIncoming, out.Kind)
	number, err := out.String("number")
	require.NoError(t, err)
	assert.Equal(t, "+15551234", number)
	bars, err := out.Int("bars")
	require.NoError(t, err)
	assert.Equal(t, 4, bars)
	roaming, err := out.Bool("roaming")
	require.NoError(t, err)
	assert.True(t, roaming)

	_, err = out.String("missing")
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = out.Int("number")
	assert.Error(t, err)
}

func TestEvent_IntRejectsNonIntegers(t *testing.T) {
	out, err := Decode([]byte(`{"id":"x","kind":"battery.level","payload":{"whole":55.0,"half":55.5,"huge":1e300,"neg":-3}}`))
	require.NoError(t, err)

	whole, err := out.Int("whole")
	require.NoError(t, err)
	assert.Equal(t, 55, whole)
	neg, err := out.Int("neg")
	require.NoError(t, err)
	assert.Equal(t, -3, neg)

	_, err = out.Int("half")
	assert.ErrorIs(t, err, ErrInvalidInteger)
	_, err = out.Int("huge")
	assert.ErrorIs(t, err, ErrInvalidInteger)

	overflow := Event{Kind: KindBatteryLevel, Payload: map[string]any{"n": json.Number("99999999999999999999")}}
	_, err = overflow.Int("n")
	assert.ErrorIs(t, err, ErrInvalidInteger)
}

func TestEvent_RequiresKind(t *testing.T) {
	_, err := Encode(Event{ID: "x"})
	assert.ErrorIs(t, err, ErrMissingKind)

	_, err = Decode([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, ErrMissingKind)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestProducer_Publish(t *testing.T) {
	fake := &fakePublisher{}
	producer := &Producer{p: fake, topic: "radio.outbound"}

	require.NoError(t, producer.Publish(context.Background(), New(KindVolteVerdict, "", map[string]any{"allowed": true})))
	producer.Close()

	require.Len(t, fake.published, 1)
	assert.Equal(t, "radio.outbound", fake.published[0].topic)
	event, err := Decode(fake.published[0].body)
	require.NoError(t, err)
	assert.Equal(t, KindVolteVerdict, event.Kind)
	assert.True(t, fake.stopped)
}

func TestProducer_PublishErrors(t *testing.T) {
	fake := &fakePublisher{err: errors.New("nsqd down")}
	producer := &Producer{p: fake, topic: "radio.outbound"}

	assert.ErrorContains(t, producer.Publish(context.Background(), New(KindCallState, "", nil)), "nsqd down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, producer.Publish(ctx, New(KindCallState, "", nil)), context.Canceled)
}

func TestMultiPublisher_ContinuesAfterFailure(t *testing.T) {
	var delivered []Kind
	failing := PublisherFunc(func(context.Context, Event) error { return errors.New("nsqd down") })
	recording := PublisherFunc(func(_ context.Context, event Event) error {
		delivered = append(delivered, event.Kind)
		return nil
	})

	err := MultiPublisher{failing, nil, recording}.Publish(context.Background(), New(KindProfileState, "", nil))

	assert.ErrorContains(t, err, "nsqd down")
	assert.Equal(t, []Kind{KindProfileState}, delivered)
}

func TestNewConsumer_Validation(t *testing.T) {
	handler := func(context.Context, Event, uint16) error { return nil }

	_, err := NewConsumer(ConsumerConfig{Channel: "c", NsqdAddresses: []string{"a"}, Handler: handler})
	assert.ErrorIs(t, err, ErrTopicRequired)
	_, err = NewConsumer(ConsumerConfig{Topic: "t", NsqdAddresses: []string{"a"}, Handler: handler})
	assert.ErrorIs(t, err, ErrChannelRequired)
	_, err = NewConsumer(ConsumerConfig{Topic: "t", Channel: "c", NsqdAddresses: []string{"a"}})
	assert.ErrorIs(t, err, ErrHandlerRequired)
	_, err = NewConsumer(ConsumerConfig{Topic: "t", Channel: "c", Handler: handler})
	assert.ErrorIs(t, err, ErrNoAddressConfigured)
}

func TestConsumer_DeliversEvents(t *testing.T) {
	var got []Event
	consumer, dlq := newTestConsumer(t, func(_ context.Context, event Event, attempts uint16) error {
		assert.EqualValues(t, 1, attempts)
		got = append(got, event)
		return nil
	})

	require.NoError(t, consumer.handleMessage(message(t, New(KindBatteryLevel, "", map[string]any{"percent": 80}), 1)))

	require.Len(t, got, 1)
	assert.Equal(t, KindBatteryLevel, got[0].Kind)
	assert.Empty(t, dlq.published)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	failure := errors.New("profile not connected")
	consumer, dlq := newTestConsumer(t, func(context.Context, Event, uint16) error { return failure })
	event := New(KindCallAnswered, "", nil)

	assert.ErrorIs(t, consumer.handleMessage(message(t, event, 2)), failure)
	assert.Empty(t, dlq.published)

	assert.NoError(t, consumer.handleMessage(message(t, event, 3)))
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "radio.inbound.dlq", dlq.published[0].topic)
}

func TestConsumer_DLQFailureKeepsRetrying(t *testing.T) {
	failure := errors.New("modem busy")
	consumer, dlq := newTestConsumer(t, func(context.Context, Event, uint16) error { return failure })
	dlq.err = errors.New("nsqd down")

	assert.ErrorIs(t, consumer.handleMessage(message(t, New(KindVolteCheck, "", nil), 5)), failure)
}

func TestConsumer_MalformedMessageIsNotRetried(t *testing.T) {
	called := false
	consumer, dlq := newTestConsumer(t, func(context.Context, Event, uint16) error {
		called = true
		return nil
	})
	var id nsq.MessageID
	msg := nsq.NewMessage(id, []byte(`{"kind":`))
	msg.Attempts = 1

	assert.NoError(t, consumer.handleMessage(msg))
	assert.False(t, called)
	assert.Len(t, dlq.published, 1)
}
