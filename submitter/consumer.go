// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package submitter

import (
	"fmt"

	"github.com/NeowayLabs/wabbit"
	"github.com/buger/jsonparser"
	log "github.com/sirupsen/logrus"
)

// Event is a decoded dropwatch notification. Batch summaries fill UploadID,
// Filename and Status, password manager events fill Kind, FileHash and
// Filename. Raw is the message body as received.
type Event struct {
	Kind     string
	UploadID string
	Filename string
	Status   string
	FileHash string
	Raw      []byte
}

// IsBatch reports whether e is an ingestion summary.
func (e Event) IsBatch() bool {
	return e.Kind == "" && e.UploadID != ""
}

var eventPaths = [][]string{
	{"event"},
	{"upload_id"},
	{"filename"},
	{"status"},
	{"archive", "file_hash"},
	{"archive", "file_name"},
}

// ParseEvent decodes the fields of a notification body that are known to
// dropwatch. Bodies that are not JSON objects yield an Event with only Raw
// set.
func ParseEvent(body []byte) Event {
	e := Event{Raw: body}
	jsonparser.EachKey(body, func(idx int, value []byte, vt jsonparser.ValueType, err error) {
		if err != nil || vt != jsonparser.String {
			return
		}
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return
		}
		switch idx {
		case 0:
			e.Kind = s
		case 1:
			e.UploadID = s
		case 2, 5:
			if e.Filename == "" {
				e.Filename = s
			}
		case 3:
			e.Status = s
		case 4:
			e.FileHash = s
		}
	}, eventPaths...)
	return e
}

// ConsumerConfig describes the queue an EventConsumer reads from. An empty
// ExchangeType uses the type returned by the Reconnector.
type ConsumerConfig struct {
	URL          string
	Exchange     string
	ExchangeType string
	Queue        string
	BindingKey   string
	Tag          string
}

// EventConsumer binds a queue to the dropwatch exchange and hands every
// notification to a callback.
type EventConsumer struct {
	conn     wabbit.Conn
	channel  wabbit.Channel
	tag      string
	done     chan error
	Callback func(Event)
}

// MakeEventConsumer connects using dial and starts consuming. The callback
// runs on a single goroutine, in delivery order.
func MakeEventConsumer(cfg ConsumerConfig, dial Reconnector, callback func(Event)) (*EventConsumer, error) {
	if cfg.BindingKey == "" {
		cfg.BindingKey = DefaultRoutingKey
	}
	c := &EventConsumer{
		tag:      cfg.Tag,
		done:     make(chan error),
		Callback: callback,
	}

	log.Debugf("dialing %q", cfg.URL)
	conn, exchangeType, err := dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	c.conn = conn
	if cfg.ExchangeType != "" {
		exchangeType = cfg.ExchangeType
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("channel: %s", err)
	}

	deliveries, err := c.subscribe(cfg, exchangeType)
	if err != nil {
		c.channel.Close()
		c.conn.Close()
		return nil, err
	}
	go c.handle(deliveries)

	return c, nil
}

func (c *EventConsumer) subscribe(cfg ConsumerConfig, exchangeType string) (<-chan wabbit.Delivery, error) {
	if err := c.channel.ExchangeDeclare(
		cfg.Exchange,
		exchangeType,
		wabbit.Option{
			"durable":  true,
			"delete":   false,
			"internal": false,
			"noWait":   false,
		},
	); err != nil {
		return nil, fmt.Errorf("exchange declare: %s", err)
	}

	queue, err := c.channel.QueueDeclare(
		cfg.Queue,
		wabbit.Option{
			"durable":   true,
			"delete":    false,
			"exclusive": false,
			"noWait":    false,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("queue declare: %s", err)
	}
	log.Debugf("declared queue %q, binding to %q (key %q)", queue.Name(), cfg.Exchange, cfg.BindingKey)

	if err = c.channel.QueueBind(queue.Name(), cfg.BindingKey, cfg.Exchange,
		wabbit.Option{"noWait": false}); err != nil {
		return nil, fmt.Errorf("queue bind: %s", err)
	}

	deliveries, err := c.channel.Consume(queue.Name(), c.tag, wabbit.Option{
		"exclusive": false,
		"noLocal":   false,
		"noWait":    false,
	})
	if err != nil {
		return nil, fmt.Errorf("queue consume: %s", err)
	}
	return deliveries, nil
}

// Shutdown closes channel and connection and waits for the callback
// goroutine to return.
func (c *EventConsumer) Shutdown() error {
	// closes the deliveries channel
	if err := c.channel.Close(); err != nil {
		return fmt.Errorf("channel close failed: %s", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("AMQP connection close error: %s", err)
	}
	return <-c.done
}

func (c *EventConsumer) handle(deliveries <-chan wabbit.Delivery) {
	for d := range deliveries {
		ev := ParseEvent(d.Body())
		log.WithFields(log.Fields{
			"event":  ev.Kind,
			"status": ev.Status,
		}).Debugf("got %dB delivery %v", len(d.Body()), d.DeliveryTag())
		c.Callback(ev)
		d.Ack(false)
	}
	c.done <- nil
}
