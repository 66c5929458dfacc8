package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/pkg/errors"
)

type (
	// An MQTTRequest is published on the request topic, the payload is the base64 encoded image.
	MQTTRequest struct {
		RequestID  string `json:"requestId"`
		Payload    string `json:"payload"`
		ResponseTo string `json:"responseTo"`
	}

	// An MQTTResponse is published by the remote detector on the responseTo topic.
	MQTTResponse struct {
		Labels []model.DetectedLabel `json:"labels"`
		Error  string                `json:"error,omitempty"`
	}

	mqttDetector struct {
		client        mqtt.Client
		topic         string
		timeout       time.Duration
		maxLabels     int
		minConfidence float64
		log           logger.Logger

		mu      sync.Mutex
		pending map[string]chan MQTTResponse
	}
)

// MQTTOptions configures the MQTT detector.
type MQTTOptions struct {
	Topic         string
	Timeout       time.Duration
	MaxLabels     int
	MinConfidence float64
}

// NewMQTT returns a Detector performing RPCs over MQTT.
// The images are published on <topic>/request, the responses are awaited on <topic>/response/<requestId>.
// The client must be connected.
func NewMQTT(client mqtt.Client, o MQTTOptions, log logger.Logger) (Detector, error) {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}

	d := &mqttDetector{
		client:        client,
		topic:         o.Topic,
		timeout:       o.Timeout,
		maxLabels:     o.MaxLabels,
		minConfidence: o.MinConfidence,
		log:           log.WithPrefix("[mqtt]"),
		pending:       map[string]chan MQTTResponse{},
	}

	token := client.Subscribe(d.responseTopic("+"), 1, d.handle)
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "could not subscribe to responses")
	}
	return d, nil
}

// DialMQTT connects to the broker.
func DialMQTT(broker, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("rekbox-" + uuid.Must(uuid.NewV4()).String())
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "could not connect to %s", broker)
	}
	return client, nil
}

func (d *mqttDetector) Name() string {
	return "mqtt"
}

func (d *mqttDetector) DetectLabels(ctx context.Context, image []byte) ([]model.DetectedLabel, error) {
	id := uuid.Must(uuid.NewV4()).String()
	ch := make(chan MQTTResponse, 1)

	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	payload, err := json.Marshal(MQTTRequest{
		RequestID:  id,
		Payload:    base64.StdEncoding.EncodeToString(image),
		ResponseTo: d.responseTopic(id),
	})
	if err != nil {
		return nil, Permanent(errors.Wrap(err, "mqtt detector"))
	}

	d.log.Debugf("%s sending request to %s", id, d.requestTopic())
	token := d.client.Publish(d.requestTopic(), 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt detector: publish")
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "mqtt detector")
	case <-timer.C:
		return nil, errors.Errorf("mqtt detector: no response for %s after %s", id, d.timeout)
	case resp := <-ch:
		if resp.Error != "" {
			return nil, Permanent(errors.Errorf("mqtt detector: %s", resp.Error))
		}
		return Filter(resp.Labels, d.maxLabels, d.minConfidence), nil
	}
}

func (d *mqttDetector) requestTopic() string {
	return d.topic + "/request"
}

func (d *mqttDetector) responseTopic(id string) string {
	return d.topic + "/response/" + id
}

func (d *mqttDetector) handle(_ mqtt.Client, m mqtt.Message) {
	var resp MQTTResponse
	if err := json.Unmarshal(m.Payload(), &resp); err != nil {
		d.log.Errorf("Invalid response on %s: %s", m.Topic(), err)
		return
	}

	id := strings.TrimPrefix(m.Topic(), d.responseTopic(""))

	d.mu.Lock()
	ch, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		d.log.Debugf("%s response without pending request", id)
		return
	}

	select {
	case ch <- resp:
	default:
	}
}
