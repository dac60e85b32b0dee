// Package mqttio connects the command pipeline to an MQTT broker: commands
// arrive on the cmd topic (fire-and-forget, no acks), the canonical state is
// republished retained, and a last-will presence topic flags the server
// online/offline.
package mqttio

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/atrep123/dmx-core/config"
	"github.com/atrep123/dmx-core/errors"
	"github.com/atrep123/dmx-core/metrics"
)

// OnCommand receives each raw command payload from the cmd topic.
type OnCommand func(payload []byte)

// Client wraps the paho connection. Connect is fail-open: a broker that is
// down at startup only logs, and paho's auto-reconnect keeps trying.
type Client struct {
	cfg     config.MQTTConfig
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	onCmd   OnCommand

	conn mqtt.Client
}

// New builds the client; Connect establishes the session.
func New(cfg config.MQTTConfig, m *metrics.Metrics, log *zap.SugaredLogger, onCmd OnCommand) *Client {
	return &Client{cfg: cfg, log: log, metrics: m, onCmd: onCmd}
}

// Connect dials the broker, registers the LWT, announces presence, and
// subscribes to the command topic.
func (c *Client) Connect() error {
	will, _ := json.Marshal(map[string]bool{"online": false})

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Host, c.cfg.Port)).
		SetClientID(fmt.Sprintf("%s-core", c.cfg.ClientIDPrefix)).
		SetKeepAlive(time.Duration(c.cfg.KeepaliveSec) * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(3 * time.Second).
		SetBinaryWill(c.cfg.LWTTopic, will, 1, true)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(func(conn mqtt.Client) {
		c.metrics.MQTTConnected.Set(1)
		c.log.Infow("MQTT connected", "host", c.cfg.Host, "port", c.cfg.Port)

		online, _ := json.Marshal(map[string]bool{"online": true})
		conn.Publish(c.cfg.LWTTopic, 1, true, online)

		token := conn.Subscribe(c.cfg.CmdTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			if c.onCmd != nil {
				c.onCmd(msg.Payload())
			}
		})
		if token.Wait() && token.Error() != nil {
			c.log.Errorw("MQTT subscribe failed", "topic", c.cfg.CmdTopic, "error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.metrics.MQTTConnected.Set(0)
		c.log.Warnw("MQTT connection lost", "error", err)
	})

	c.conn = mqtt.NewClient(opts)
	token := c.conn.Connect()
	// Bounded wait; with retry enabled a slow broker keeps connecting in
	// the background.
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		c.log.Warnw("MQTT connect pending or failed (fail-open)",
			"host", c.cfg.Host, "error", token.Error())
	}
	return nil
}

// PublishState republishes the canonical state retained.
func (c *Client) PublishState(state any) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to encode state payload")
	}
	c.conn.Publish(c.cfg.StateTopic, 1, true, payload)
	return nil
}

// Connected reports the live broker session state.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close publishes the offline presence and disconnects.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if c.conn.IsConnected() {
		offline, _ := json.Marshal(map[string]bool{"online": false})
		token := c.conn.Publish(c.cfg.LWTTopic, 1, true, offline)
		token.WaitTimeout(time.Second)
	}
	c.conn.Disconnect(250)
	c.metrics.MQTTConnected.Set(0)
}
