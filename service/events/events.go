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

package events

import (
	"context"
	"time"

	"github.com/mattn/go-pubsub"
	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/model"
)

// EdgeEvent is published when a watched input changes level.
type EdgeEvent struct {
	PeripheralID string    `json:"peripheral_id"`
	Value        bool      `json:"value"`
	Time         time.Time `json:"time"`
}

// TransferEvent is published when an asynchronous operation on a
// peripheral completes. Status is the byte count on success or a
// negative errno on failure.
type TransferEvent struct {
	PeripheralID string               `json:"peripheral_id"`
	Type         model.PeripheralType `json:"type"`
	Operation    string               `json:"operation"`
	Status       int                  `json:"status"`
	Time         time.Time            `json:"time"`
}

// Service fans out peripheral events to in-process subscribers.
type Service interface {
	// Publish an edge change.
	PublishEdge(evt EdgeEvent)
	// Publish a completed transfer.
	PublishTransfer(evt TransferEvent)
	// Register a callback for edge changes.
	// The returned function cancels the registration.
	SubscribeEdge(cb func(EdgeEvent) error) context.CancelFunc
	// Register a callback for completed transfers.
	// The returned function cancels the registration.
	SubscribeTransfer(cb func(TransferEvent) error) context.CancelFunc
}

// NewService creates a Service instance and returns it.
func NewService(log zerolog.Logger) Service {
	return &service{
		log:       log.With().Str("component", "events").Logger(),
		edges:     pubsub.New(),
		transfers: pubsub.New(),
	}
}

type service struct {
	log       zerolog.Logger
	edges     *pubsub.PubSub
	transfers *pubsub.PubSub
}

// Publish an edge change.
func (s *service) PublishEdge(evt EdgeEvent) {
	s.edges.Pub(evt)
}

// Publish a completed transfer.
func (s *service) PublishTransfer(evt TransferEvent) {
	s.transfers.Pub(evt)
}

// Register a callback for edge changes.
func (s *service) SubscribeEdge(cb func(EdgeEvent) error) context.CancelFunc {
	wcb := func(x EdgeEvent) {
		if err := cb(x); err != nil {
			s.log.Warn().Err(err).Msg("Edge event processing error")
		}
	}
	s.edges.Sub(wcb)
	return func() {
		s.edges.Leave(wcb)
	}
}

// Register a callback for completed transfers.
func (s *service) SubscribeTransfer(cb func(TransferEvent) error) context.CancelFunc {
	wcb := func(x TransferEvent) {
		if err := cb(x); err != nil {
			s.log.Warn().Err(err).Msg("Transfer event processing error")
		}
	}
	s.transfers.Sub(wcb)
	return func() {
		s.transfers.Leave(wcb)
	}
}
