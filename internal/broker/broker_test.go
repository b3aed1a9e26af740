package broker

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubToken struct {
	done chan struct{}
	err  error
}

func (t *stubToken) Wait() bool                       { <-t.done; return true }
func (t *stubToken) WaitTimeout(d time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{}            { return t.done }
func (t *stubToken) Error() error                     { return t.err }

func completed(err error) *stubToken {
	done := make(chan struct{})
	close(done)
	return &stubToken{done: done, err: err}
}

// stubClient implements the paho calls the publisher makes.
type stubClient struct {
	paho.Client
	token     paho.Token
	published []string
	qos       []byte
	retained  []bool
	disc      bool
}

func (c *stubClient) Publish(topic string, qos byte, retained bool, _ interface{}) paho.Token {
	c.published = append(c.published, topic)
	c.qos = append(c.qos, qos)
	c.retained = append(c.retained, retained)
	return c.token
}

func (c *stubClient) Disconnect(uint) { c.disc = true }

func TestTopics(t *testing.T) {
	assert.Equal(t, "H2_1/Mechanism/H2Quality", MechanismTopic("1", "H2Quality"))
	assert.Equal(t, "H2_3/AlertCount", AlertCountTopic("3"))
	assert.Equal(t, "H2_9/HomeInfo", HomeInfoTopic("9"))
}

func TestMQTTPublish(t *testing.T) {
	client := &stubClient{token: completed(nil)}
	p := newMQTTPublisher(client, time.Second, logger.Nop())

	err := p.Publish(context.Background(), Message{Topic: "H2_1/AlertCount", Payload: []byte(`{}`), QoS: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"H2_1/AlertCount"}, client.published)
	assert.Equal(t, []byte{1}, client.qos)
	assert.Equal(t, []bool{false}, client.retained)

	require.NoError(t, p.Close())
	assert.True(t, client.disc)
}

func TestMQTTPublishTimeout(t *testing.T) {
	client := &stubClient{token: &stubToken{done: make(chan struct{})}}
	p := newMQTTPublisher(client, 20*time.Millisecond, logger.Nop())

	start := time.Now()
	err := p.Publish(context.Background(), Message{Topic: "H2_1/HomeInfo"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPublishTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestMQTTPublishError(t *testing.T) {
	client := &stubClient{token: completed(assert.AnError)}
	p := newMQTTPublisher(client, time.Second, logger.Nop())

	err := p.Publish(context.Background(), Message{Topic: "H2_1/HomeInfo"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPublish))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	ctx := context.Background()

	require.NoError(t, f.Publish(ctx, Message{Topic: "a"}))
	require.NoError(t, f.Publish(ctx, Message{Topic: "b"}))
	require.NoError(t, f.Publish(ctx, Message{Topic: "a"}))
	assert.Len(t, f.Topic("a"), 2)

	f.SetError(assert.AnError)
	assert.ErrorIs(t, f.Publish(ctx, Message{Topic: "a"}), assert.AnError)
	assert.Len(t, f.Messages, 3)

	f.Reset()
	assert.Empty(t, f.Messages)
}
