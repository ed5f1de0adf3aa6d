package roof

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/roofmesh/internal/logging"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttMaxRetryDelay  = 60 * time.Second
)

// NewMQTTClient builds a paho client for cfg. It returns nil when no broker
// is configured; MQTT is then disabled.
func NewMQTTClient(cfg MQTTConfig, logger logging.Logger) mqtt.Client {
	if cfg.Broker == "" {
		return nil
	}
	log := logging.OrNoop(logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(mqttMaxRetryDelay)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info(context.Background(), "mqtt connected", logging.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn(context.Background(), "mqtt connection interrupted, auto-reconnect will retry", logging.Err(err))
	})
	return mqtt.NewClient(opts)
}

// ConnectWithRetry connects client, backing off exponentially between
// attempts, until it succeeds or ctx is done.
func ConnectWithRetry(ctx context.Context, client mqtt.Client, logger logging.Logger) error {
	log := logging.OrNoop(logger)
	retryDelay := time.Second

	for {
		token := client.Connect()
		if token.WaitTimeout(mqttConnectTimeout) {
			if token.Error() == nil {
				return nil
			}
			log.Warn(ctx, "mqtt connection failed", logging.Err(token.Error()))
		} else {
			log.Warn(ctx, "mqtt connection timeout")
		}

		log.Info(ctx, "retrying mqtt connection", logging.Duration("delay", retryDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > mqttMaxRetryDelay {
			retryDelay = mqttMaxRetryDelay
		}
	}
}
