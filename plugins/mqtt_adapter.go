package plugins

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"Genset-DataBridge/command"
	"Genset-DataBridge/config"
	"Genset-DataBridge/ingest"
)

const devicePlaceholder = "{device}"

// MQTTAdapter subscribes to device telemetry and publishes commands. It is
// both the input plugin and the command transport.
type MQTTAdapter struct {
	config config.MQTTConfig
	logger *zap.Logger
	client mqtt.Client
	now    func() time.Time
}

// NewMQTTAdapter creates a new MQTTAdapter given its configuration.
func NewMQTTAdapter(cfg config.MQTTConfig, logger *zap.Logger) *MQTTAdapter {
	return &MQTTAdapter{
		config: cfg,
		logger: logger.Named("mqtt"),
		now:    time.Now,
	}
}

func (m *MQTTAdapter) Name() string {
	return "MQTT Adapter"
}

// Start connects to the broker and subscribes to the telemetry topic of every
// device. The subscription is renewed on reconnect.
func (m *MQTTAdapter) Start(ctx context.Context, envCh chan<- ingest.Envelope) error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("%s:%d", m.config.Broker, m.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%s", m.config.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	if m.config.CA != "" {
		tlsConfig, err := newTLSConfig(m.config.CA, m.config.Cert, m.config.Key)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
	}
	if m.config.Password != "" {
		opts.SetPassword(m.config.Password)
	}

	filter := subscriptionTopic(m.config.TelemetryTopic)
	handler := m.telemetryHandler(ctx, envCh)

	opts.OnConnect = func(client mqtt.Client) {
		m.logger.Info("connected", zap.String("broker", brokerURL))
		token := client.Subscribe(filter, m.config.QoS, handler)
		if token.Wait() && token.Error() != nil {
			m.logger.Error("subscribe failed", zap.String("topic", filter), zap.Error(token.Error()))
			return
		}
		m.logger.Info("subscribed", zap.String("topic", filter))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		m.logger.Warn("connection lost", zap.Error(err))
	}

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", brokerURL, token.Error())
	}

	go func() {
		<-ctx.Done()
		m.client.Disconnect(250)
		m.logger.Info("disconnected")
	}()
	return nil
}

// telemetryHandler decodes each message into an envelope for the device
// named by its topic. Messages are handed on in arrival order.
func (m *MQTTAdapter) telemetryHandler(ctx context.Context, envCh chan<- ingest.Envelope) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		deviceID, ok := deviceFromTopic(m.config.TelemetryTopic, msg.Topic())
		if !ok {
			m.logger.Warn("telemetry on unexpected topic", zap.String("topic", msg.Topic()))
			return
		}
		env, err := ingest.DecodeEnvelope(deviceID, msg.Payload(), m.now())
		if err != nil {
			m.logger.Warn("invalid telemetry payload", zap.String("device_id", deviceID), zap.Error(err))
			return
		}
		m.logger.Debug("telemetry received",
			zap.String("device_id", deviceID), zap.Int("pairs", len(env.Requests)))
		select {
		case envCh <- env:
		case <-ctx.Done():
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (m *MQTTAdapter) IsConnected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}

// Publish sends payload to the command topic of deviceID and waits for the
// broker to accept it. A dropped connection is reported as
// command.ErrTransportDisconnected.
func (m *MQTTAdapter) Publish(ctx context.Context, deviceID string, payload []byte) error {
	if !m.IsConnected() {
		return command.ErrTransportDisconnected
	}
	topic := commandTopic(m.config.CommandTopic, deviceID)
	token := m.client.Publish(topic, m.config.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			if !m.IsConnected() {
				return fmt.Errorf("publish %s: %w: %v", topic, command.ErrTransportDisconnected, err)
			}
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// subscriptionTopic turns a topic template into a single-level wildcard filter.
func subscriptionTopic(template string) string {
	return strings.ReplaceAll(template, devicePlaceholder, "+")
}

func commandTopic(template, deviceID string) string {
	return strings.ReplaceAll(template, devicePlaceholder, deviceID)
}

// deviceFromTopic extracts the device id from topic according to template.
func deviceFromTopic(template, topic string) (string, bool) {
	want := strings.Split(template, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", false
	}
	device := ""
	for i, seg := range want {
		switch {
		case seg == devicePlaceholder:
			if got[i] == "" {
				return "", false
			}
			device = got[i]
		case seg != got[i]:
			return "", false
		}
	}
	return device, device != ""
}

func newTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	cfg := &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
