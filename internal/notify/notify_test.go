package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func sample() Notification {
	return Notification{
		Lead: models.Lead{
			Identity:         models.Identity{UserID: "42", Username: "ivan"},
			Phone:            "+79001234567",
			ConsultationTime: "вечером",
			CreatedAt:        time.Date(2025, 6, 2, 15, 4, 0, 0, time.UTC),
		},
		ApplicationID: "app-1",
		CRMLeadID:     "1017",
		Summary:       "ID пользователя: 42",
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestEmailNotifier(t *testing.T) {
	d := &fakeDialer{}
	e := NewEmailNotifierWithDialer(d, "bot@example.com", "admin@example.com")

	require.NoError(t, e.Notify(context.Background(), sample()))
	require.Len(t, d.sent, 1)
	msg := d.sent[0]
	assert.Equal(t, []string{"admin@example.com"}, msg.GetHeader("To"))
	subject := msg.GetHeader("Subject")
	require.Len(t, subject, 1)
	decoded, err := new(mime.WordDecoder).DecodeHeader(subject[0])
	require.NoError(t, err)
	assert.Equal(t, "Новая заявка: +79001234567", decoded)
	assert.Equal(t, Subject(sample()), decoded)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "text/plain")

	assert.ErrorIs(t, NewEmailNotifierWithDialer(d, "a", "").Notify(context.Background(), sample()), ErrNoRecipient)
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	out    []published
	err    error
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.out = append(c.out, published{exchange: exchange, key: key, msg: msg})
	return c.err
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := NewAMQPPublisherWithChannel(ch, "leadpipe.leads", "lead.created")

	require.NoError(t, p.Notify(context.Background(), sample()))
	require.Len(t, ch.out, 1)
	got := ch.out[0]
	assert.Equal(t, "leadpipe.leads", got.exchange)
	assert.Equal(t, "lead.created", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "app-1", got.msg.MessageId)

	var ev models.LeadEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &ev))
	assert.Equal(t, "+79001234567", ev.Phone)
	assert.Equal(t, "1017", ev.CRMLeadID)
	assert.Equal(t, models.UserID("42"), ev.UserID)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, Notification) error {
	s.calls++
	return s.err
}

func (s *stubNotifier) Name() string { return s.name }

func TestFanoutContinuesAfterFailure(t *testing.T) {
	boom := errors.New("smtp down")
	first := &stubNotifier{name: "email", err: boom}
	second := &stubNotifier{name: "amqp"}

	err := Fanout{first, second}.Notify(context.Background(), sample())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)

	assert.NoError(t, Fanout{second}.Notify(context.Background(), sample()))
	assert.NoError(t, Fanout{first, second}.Close())
}
