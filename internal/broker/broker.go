// Package broker publishes alarm, statistics and overview documents to the
// plant's MQTT broker.
package broker

import (
	"context"

	"codeberg.org/mutker/h2station/internal/errors"
)

const (
	ErrConnect        = errors.ErrorCode("broker_connect_failed")
	ErrPublish        = errors.ErrorCode("broker_publish_failed")
	ErrPublishTimeout = errors.ErrorCode("broker_publish_timeout")
)

// Message is one publish request.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Publisher sends messages. Publish returns once the broker acknowledged the
// message or the bounded wait elapsed.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func unitPrefix(unit string) string {
	return "H2_" + unit
}

// MechanismTopic is where alerts of one mechanism are published.
func MechanismTopic(unit, mechanism string) string {
	return unitPrefix(unit) + "/Mechanism/" + mechanism
}

func AlertCountTopic(unit string) string {
	return unitPrefix(unit) + "/AlertCount"
}

func HomeInfoTopic(unit string) string {
	return unitPrefix(unit) + "/HomeInfo"
}
