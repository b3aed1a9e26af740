package broker

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// MQTTPublisher publishes over one shared paho client.
type MQTTPublisher struct {
	mu      sync.Mutex
	client  paho.Client
	timeout time.Duration
	log     logger.Logger
}

// Dial connects to the broker. A failure here is a bootstrap error.
func Dial(cfg config.MQTTConfig, log logger.Logger) (*MQTTPublisher, error) {
	errFactory := errors.New()

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(45 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errFactory.WithData(ErrConnect, struct {
			Broker string
			Error  string
		}{cfg.Broker, "connection timeout"})
	}
	if err := token.Error(); err != nil {
		return nil, errFactory.Wrap(ErrConnect, err)
	}

	return newMQTTPublisher(client, cfg.PublishTimeout, log), nil
}

func newMQTTPublisher(client paho.Client, timeout time.Duration, log logger.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, timeout: timeout, log: log}
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	errFactory := errors.New()

	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return errFactory.WithData(ErrPublishTimeout, struct {
			Topic   string
			Timeout time.Duration
		}{msg.Topic, p.timeout})
	case <-ctx.Done():
		return errFactory.Wrap(ErrPublishTimeout, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}

	p.log.Debug().Str("topic", msg.Topic).Int("bytes", len(msg.Payload)).Msg("Published")

	return nil
}

func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.client.Disconnect(1000)
	return nil
}
