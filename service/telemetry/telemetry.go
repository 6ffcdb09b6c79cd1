//    Copyright 2026 The Periferia Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package telemetry

import (
	"context"
	"path"

	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/service/events"
	"github.com/periferia-io/periferia/service/util"
)

const (
	publishQueueSize = 64
)

// Service publishes peripheral events to an MQTT broker until its
// context is canceled.
type Service interface {
	// Run the publisher until the given context is canceled.
	Run(ctx context.Context) error
}

type Config struct {
	// TopicPrefix is prepended to all published topics.
	TopicPrefix string
}

type Dependencies struct {
	Log    zerolog.Logger
	Mqtt   MqttService
	Events events.Service
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Log = deps.Log.With().Str("component", "telemetry").Logger()
	if conf.TopicPrefix == "" {
		conf.TopicPrefix = "periferia"
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
	}, nil
}

type service struct {
	Config
	Dependencies
}

type queuedMsg struct {
	topic string
	msg   interface{}
}

// Run the publisher until the given context is canceled.
func (s *service) Run(ctx context.Context) error {
	queue := make(chan queuedMsg, publishQueueSize)

	enqueue := func(topic string, msg interface{}) {
		select {
		case queue <- queuedMsg{topic: topic, msg: msg}:
			// Queued
		default:
			s.Log.Warn().Str("topic", topic).Msg("Telemetry queue full, dropping event")
			eventsDroppedTotal.Inc()
		}
	}
	cancelEdge := s.Events.SubscribeEdge(func(evt events.EdgeEvent) error {
		enqueue(path.Join(s.TopicPrefix, "edge", evt.PeripheralID), evt)
		return nil
	})
	defer cancelEdge()
	cancelTransfer := s.Events.SubscribeTransfer(func(evt events.TransferEvent) error {
		enqueue(path.Join(s.TopicPrefix, "transfer", evt.PeripheralID), evt)
		return nil
	})
	defer cancelTransfer()

	return util.UntilCanceled(ctx, s.Log, "telemetry publisher", func() error {
		for {
			select {
			case qm := <-queue:
				if err := s.Mqtt.Publish(ctx, qm.msg, qm.topic, QosAtMostOnce); err != nil {
					return maskAny(err)
				}
				eventsPublishedTotal.Inc()
			case <-ctx.Done():
				return nil
			}
		}
	})
}
