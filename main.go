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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/server"
	"github.com/periferia-io/periferia/service"
	"github.com/periferia-io/periferia/service/bridge"
	"github.com/periferia-io/periferia/service/events"
	"github.com/periferia-io/periferia/service/telemetry"
)

const (
	projectName       = "Periferia"
	defaultServerPort = 7201
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
	maskAny        = errors.WithStack
)

func main() {
	var levelFlag string
	var serverHost string
	var serverPort int
	var bridgeType string
	var configPath string
	var mqttHost string
	var mqttPort int
	var mqttClientID string
	var topicPrefix string

	pflag.StringVarP(&levelFlag, "level", "l", "debug", "Set log level")
	pflag.StringVarP(&bridgeType, "bridge", "b", "none", "Type of bridge to use (rpi|opz|none)")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the HTTP server will listen on")
	pflag.IntVar(&serverPort, "port", defaultServerPort, "Port the HTTP server will listen on")
	pflag.StringVarP(&configPath, "config", "c", "", "Path of the peripheral configuration file")
	pflag.StringVar(&mqttHost, "mqtt-host", "", "Host of the MQTT broker telemetry is published to (empty disables telemetry)")
	pflag.IntVar(&mqttPort, "mqtt-port", 1883, "Port of the MQTT broker")
	pflag.StringVar(&mqttClientID, "mqtt-client-id", "periferia", "Client ID used on the MQTT broker")
	pflag.StringVar(&topicPrefix, "topic-prefix", "periferia", "Prefix of all published MQTT topics")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	} else {
		logger = logger.Level(level)
	}

	var br bridge.API
	var err error
	switch bridgeType {
	case "rpi":
		br, err = bridge.NewRaspberryPiBridge()
		if err != nil {
			Exitf("Failed to initialize Raspberry Pi Bridge: %v\n", err)
		}
	case "opz":
		br, err = bridge.NewOrangePIZeroBridge()
		if err != nil {
			Exitf("Failed to initialize Orange Pi Zero Bridge: %v\n", err)
		}
	case "none":
		br = bridge.NewStub(logger)
	default:
		Exitf("Unknown bridge type '%s' (rpi|opz|none)\n", bridgeType)
	}

	configuration, err := loadConfiguration(configPath)
	if err != nil {
		Exitf("Failed to load configuration from '%s': %v\n", configPath, err)
	}

	eventService := events.NewService(logger)

	svc, err := service.NewService(service.Config{
		ProgramVersion: projectVersion,
		Configuration:  configuration,
	}, service.Dependencies{
		Log:    logger,
		Bridge: br,
		Events: eventService,
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	httpServer, err := server.NewServer(server.Config{
		Host: serverHost,
		Port: serverPort,
	}, svc, logger)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	var publisher telemetry.Service
	if mqttHost != "" {
		mqttService, err := telemetry.NewMqttService(telemetry.MqttConfig{
			Host:     mqttHost,
			Port:     mqttPort,
			ClientID: mqttClientID,
		}, logger)
		if err != nil {
			Exitf("Failed to initialize MQTT service: %v\n", err)
		}
		defer mqttService.Close()
		publisher, err = telemetry.NewService(telemetry.Config{
			TopicPrefix: topicPrefix,
		}, telemetry.Dependencies{
			Log:    logger,
			Mqtt:   mqttService,
			Events: eventService,
		})
		if err != nil {
			Exitf("Failed to initialize telemetry: %v\n", err)
		}
	}

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	if publisher != nil {
		g.Go(func() error { return publisher.Run(ctx) })
	}
	if err := g.Wait(); err != nil {
		Exitf("Service run failed: %#v", err)
	}
}

// loadConfiguration reads the peripheral configuration. An empty path
// yields an empty configuration.
func loadConfiguration(path string) (model.LocalConfiguration, error) {
	var result model.LocalConfiguration
	if path == "" {
		return result, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return result, maskAny(err)
	}
	if err := json.Unmarshal(content, &result); err != nil {
		return result, maskAny(err)
	}
	return result, nil
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
