package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdouchement/logger"
	"github.com/mdouchement/rekbox/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct{}

func (token) Wait() bool                     { return true }
func (token) WaitTimeout(time.Duration) bool { return true }
func (token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (token) Error() error { return nil }

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

// broker is an in-memory client answering the requests like a remote detector would.
type broker struct {
	mqtt.Client
	mu       sync.Mutex
	callback mqtt.MessageHandler
	respond  func(req MQTTRequest) *MQTTResponse
}

func (b *broker) Subscribe(_ string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	b.callback = callback
	b.mu.Unlock()
	return token{}
}

func (b *broker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var req MQTTRequest
	if err := json.Unmarshal(payload.([]byte), &req); err != nil {
		panic(err)
	}

	go func() {
		resp := b.respond(req)
		if resp == nil {
			return
		}
		data, _ := json.Marshal(resp)

		b.mu.Lock()
		callback := b.callback
		b.mu.Unlock()
		callback(b, message{topic: req.ResponseTo, payload: data})
	}()
	return token{}
}

func TestMQTT(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	client := &broker{
		respond: func(req MQTTRequest) *MQTTResponse {
			image, _ := base64.StdEncoding.DecodeString(req.Payload)
			switch string(image) {
			case "cat":
				return &MQTTResponse{Labels: []model.DetectedLabel{{Name: "Cat", Confidence: 97}, {Name: "Blur", Confidence: 10}}}
			case "text":
				return &MQTTResponse{Error: "unsupported image"}
			default:
				return nil
			}
		},
	}

	d, err := NewMQTT(client, MQTTOptions{
		Topic:         "rekbox/rpc/detectLabels",
		Timeout:       200 * time.Millisecond,
		MaxLabels:     10,
		MinConfidence: 70,
	}, logger.WrapLogrus(log))
	require.NoError(t, err)
	ctx := context.Background()

	labels, err := d.DetectLabels(ctx, []byte("cat"))
	require.NoError(t, err)
	assert.Equal(t, []model.DetectedLabel{{Name: "Cat", Confidence: 97}}, labels)

	_, err = d.DetectLabels(ctx, []byte("text"))
	assert.True(t, IsPermanent(err))

	// No response is a transient failure.
	_, err = d.DetectLabels(ctx, []byte("silence"))
	assert.Error(t, err)
	assert.False(t, IsPermanent(err))
}
