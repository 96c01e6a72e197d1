// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/DCSO/dropwatch/submitter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type eventsOptions struct {
	AMQPURI      string
	AMQPExchange string
	AMQPUser     string
	AMQPPass     string
	Queue        string
	Reconnector  submitter.Reconnector
}

var eopts eventsOptions

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the notifications published by a watcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		return tailEvents(eopts, cmd.OutOrStdout(), sigChan)
	},
}

func init() {
	f := eventsCmd.Flags()
	f.StringVar(&eopts.AMQPURI, "amqpuri", "localhost:5672", "Endpoint and port for the AMQP connection")
	f.StringVar(&eopts.AMQPExchange, "amqpexch", "dropwatch", "Exchange the watcher posts to")
	f.StringVar(&eopts.AMQPUser, "amqpuser", "sensor", "User name for the AMQP connection")
	f.StringVar(&eopts.AMQPPass, "amqppass", "sensor", "Password for the AMQP connection")
	f.StringVar(&eopts.Queue, "queue", "dropwatch-events", "Queue to bind to the exchange")
}

// tailEvents writes one line per notification to out until a signal
// arrives on sigChan.
func tailEvents(e eventsOptions, out io.Writer, sigChan chan os.Signal) error {
	dial := e.Reconnector
	if dial == nil {
		dial = submitter.DialAMQP
	}
	c, err := submitter.MakeEventConsumer(submitter.ConsumerConfig{
		URL:      "amqp://" + e.AMQPUser + ":" + e.AMQPPass + "@" + e.AMQPURI + "/",
		Exchange: e.AMQPExchange,
		Queue:    e.Queue,
		Tag:      "dropwatch-events",
	}, dial, func(ev submitter.Event) {
		switch {
		case ev.IsBatch():
			fmt.Fprintf(out, "batch %s %s %s\n", ev.UploadID, ev.Status, ev.Filename)
		case ev.Kind != "":
			fmt.Fprintf(out, "archive %s %s %s\n", ev.Kind, ev.FileHash, ev.Filename)
		default:
			fmt.Fprintf(out, "unknown %s\n", ev.Raw)
		}
	})
	if err != nil {
		return err
	}
	log.Infof("listening on exchange %s", e.AMQPExchange)
	<-sigChan
	return c.Shutdown()
}
