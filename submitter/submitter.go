// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package submitter publishes JSON event messages (batch summaries and
// pending archive events) to an AMQP exchange.
package submitter

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NeowayLabs/wabbit"
	"github.com/NeowayLabs/wabbit/amqp"
	origamqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// SensorID is a unique string identifier for the submitting host.
var SensorID string

func init() {
	var err error
	SensorID, err = getSensorID()
	if err != nil {
		log.Fatal(err)
	}
}

func getSensorID() (string, error) {
	if _, err := os.Stat("/etc/machine-id"); os.IsNotExist(err) {
		return os.Hostname()
	}
	b, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return os.Hostname()
	}
	return strings.TrimSpace(string(b)), nil
}

const amqpReconnDelay = 2 * time.Second

// DefaultRoutingKey is used for messages if no other key is configured.
const DefaultRoutingKey = "dropwatch"

// Submitter is an interface for an entity that sends JSON data to an endpoint
type Submitter interface {
	Submit(jsonData []byte) error
	Finish()
}

// Reconnector dials an AMQP URL and returns the connection together with
// the exchange type to declare.
type Reconnector func(string) (wabbit.Conn, string, error)

// DialAMQP is the Reconnector for a real RabbitMQ server.
func DialAMQP(url string) (wabbit.Conn, string, error) {
	c, err := amqp.Dial(url)
	return c, "fanout", err
}

// AMQPConfig describes the AMQP endpoint.
type AMQPConfig struct {
	URI        string
	User       string
	Pass       string
	Exchange   string
	RoutingKey string
	Verbose    bool
}

// AMQPSubmitter sends events to a RabbitMQ exchange.
type AMQPSubmitter struct {
	URL              string
	User             string
	Exchange         string
	RoutingKey       string
	Verbose          bool
	Conn             wabbit.Conn
	Channel          wabbit.Channel
	StopReconnection chan bool
	ChanMutex        sync.Mutex
	ConnMutex        sync.Mutex
	ErrorChan        chan wabbit.Error
	Reconnector      Reconnector
}

func reconnectOnFailure(s *AMQPSubmitter) {
	for {
		select {
		case <-s.StopReconnection:
			return
		case rabbitErr := <-s.ErrorChan:
			if rabbitErr != nil {
				log.Warnf("RabbitMQ connection failed: %s", rabbitErr.Reason())
				for {
					time.Sleep(amqpReconnDelay)
					connErr := s.connect()
					if connErr != nil {
						log.Warnf("RabbitMQ error: %s", connErr)
					} else {
						log.Infof("Reestablished connection to %s", s.URL)
						s.ConnMutex.Lock()
						s.ErrorChan = make(chan wabbit.Error)
						s.Conn.NotifyClose(s.ErrorChan)
						s.ConnMutex.Unlock()
						break
					}
				}
			}
		}
	}
}

func (s *AMQPSubmitter) connect() error {
	var err error
	var exchangeType string

	s.ConnMutex.Lock()
	s.Conn, exchangeType, err = s.Reconnector(s.URL)
	s.ConnMutex.Unlock()
	if err != nil {
		return err
	}
	s.ChanMutex.Lock()
	s.Channel, err = s.Conn.Channel()
	s.ChanMutex.Unlock()
	if err != nil {
		s.ConnMutex.Lock()
		s.Conn.Close()
		s.ConnMutex.Unlock()
		return err
	}
	// amqptest does not support all exchange types, so the type comes
	// from the reconnector.
	err = s.Channel.ExchangeDeclare(
		s.Exchange,
		exchangeType,
		wabbit.Option{
			"durable":    true,
			"autoDelete": false,
			"internal":   false,
			"noWait":     false,
		},
	)
	if err != nil {
		s.ChanMutex.Lock()
		s.Channel.Close()
		s.ChanMutex.Unlock()
		s.ConnMutex.Lock()
		s.Conn.Close()
		s.ConnMutex.Unlock()
		return err
	}
	log.Debugf("Submitter established connection to %s", s.URL)

	return nil
}

// MakeAMQPSubmitter creates a new submitter connected to the RabbitMQ
// server described by cfg, using the reconnector function to Dial() in
// order to obtain a Connection object.
func MakeAMQPSubmitter(cfg AMQPConfig, reconnector Reconnector) (*AMQPSubmitter, error) {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	mySubmitter := &AMQPSubmitter{
		URL:              "amqp://" + cfg.User + ":" + cfg.Pass + "@" + cfg.URI + "/",
		Verbose:          cfg.Verbose,
		Reconnector:      reconnector,
		User:             cfg.User,
		Exchange:         cfg.Exchange,
		RoutingKey:       cfg.RoutingKey,
		StopReconnection: make(chan bool),
	}
	if cfg.Verbose {
		log.Debugf("Initial connection to %s...", mySubmitter.URL)
	}

	mySubmitter.ErrorChan = make(chan wabbit.Error)
	err := mySubmitter.connect()
	if err != nil {
		return nil, err
	}
	mySubmitter.Conn.NotifyClose(mySubmitter.ErrorChan)

	go reconnectOnFailure(mySubmitter)

	return mySubmitter, nil
}

// Submit sends the jsonData payload via the registered RabbitMQ connection.
func (s *AMQPSubmitter) Submit(jsonData []byte) error {
	s.ChanMutex.Lock()
	err := s.Channel.Publish(
		s.Exchange,
		s.RoutingKey,
		jsonData,
		wabbit.Option{
			"contentType": "application/json",
			"headers": origamqp.Table{
				"sensor_id": SensorID,
			},
		})
	s.ChanMutex.Unlock()
	if err == nil {
		if s.Verbose {
			log.Debugf("RabbitMQ submission (%s) successful", s.URL)
		}
	} else {
		log.Warnf("RabbitMQ submission not successful: %s", err.Error())
	}
	return err
}

// Finish cleans up the RMQ connection.
func (s *AMQPSubmitter) Finish() {
	close(s.StopReconnection)
	if s.Verbose {
		log.Debugf("Submitter closing connection...")
	}
}

// DummySubmitter is a Submitter that just logs data to a logger.
type DummySubmitter struct {
	l *log.Entry
}

// MakeDummySubmitter returns a new DummySubmitter.
func MakeDummySubmitter() *DummySubmitter {
	ds := &DummySubmitter{}
	ds.l = log.WithFields(log.Fields{
		"submitter": "dummy",
	})
	return ds
}

// Submit just logs the JSON data to the given logger.
func (s *DummySubmitter) Submit(jsonData []byte) error {
	s.l.Info(string(jsonData[:]))
	return nil
}

// Finish is a no-op in this implementation.
func (s *DummySubmitter) Finish() {}
