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
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	// QosAtMostOnce represents "QoS 0: At most once delivery".
	QosAtMostOnce byte = 0
	// QosAtLeastOnce represents "QoS 1: At least once delivery".
	QosAtLeastOnce byte = 1
	// QosExactlyOnce represents "QoS 2: Exactly once delivery".
	QosExactlyOnce byte = 2

	connectTimeout = time.Second * 30
)

type MqttConfig struct {
	Host     string
	Port     int
	UserName string
	Password string
	ClientID string
}

// MqttService contains the API exposed by the MQTT transport.
type MqttService interface {
	// Close the service
	Close() error
	// Publish a JSON encoded message into a topic.
	Publish(ctx context.Context, msg interface{}, topic string, qos byte) error
}

// NewMqttService instantiates a new MQTT transport.
func NewMqttService(config MqttConfig, logger zerolog.Logger) (MqttService, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", net.JoinHostPort(config.Host, strconv.Itoa(config.Port))))
	opts.SetClientID(config.ClientID)
	if config.UserName != "" {
		opts.SetUsername(config.UserName)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("MQTT connection lost")
	})
	return &mqttService{
		MqttConfig: config,
		client:     mqtt.NewClient(opts),
	}, nil
}

type mqttService struct {
	MqttConfig
	mutex  sync.Mutex
	client mqtt.Client
}

// Close the service
func (s *mqttService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// connect opens a connection when needed.
func (s *mqttService) connect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client.IsConnected() {
		return nil
	}
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return maskAny(fmt.Errorf("connect to MQTT broker timed out"))
	}
	if err := token.Error(); err != nil {
		return maskAny(err)
	}
	return nil
}

// Publish a JSON encoded message into a topic.
func (s *mqttService) Publish(ctx context.Context, msg interface{}, topic string, qos byte) error {
	if err := s.connect(); err != nil {
		return maskAny(err)
	}
	encodedMsg, err := json.Marshal(msg)
	if err != nil {
		return maskAny(err)
	}
	token := s.client.Publish(topic, qos, false, encodedMsg)
	token.Wait()
	if err := token.Error(); err != nil {
		return maskAny(err)
	}
	return nil
}
