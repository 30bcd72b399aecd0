package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods not overridden panic.
type fakeClient struct {
	mqtt.Client
	token        mqtt.Token
	msgs         []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {
	c.disconnected = true
}

func cycle() scheduler.Cycle {
	return scheduler.Cycle{
		Number:  3,
		Started: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Result: inference.Result{
			Classification: []inference.Classification{{Label: "idle", Value: 0.25}, {Label: "wave", Value: 0.75}},
		},
		Frame: []float32{1, 2, 3},
	}
}

func TestPublisher_Report(t *testing.T) {
	c := &fakeClient{token: doneToken(nil)}
	p := New(c, Config{Topic: "lab/pico", QoS: 1, Retained: true, Device: "pico-1", FrameStats: true})

	require.NoError(t, p.Report(context.Background(), cycle()))
	require.Len(t, c.msgs, 1)

	msg := c.msgs[0]
	assert.Equal(t, "lab/pico", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "pico-1", got["device"])
	assert.Equal(t, "wave", got["label"])
	assert.Contains(t, got, "frame")
	assert.NotContains(t, got, "anomaly")

	require.NoError(t, p.Close())
	assert.True(t, c.disconnected)
}

func TestPublisher_Defaults(t *testing.T) {
	c := &fakeClient{token: doneToken(nil)}
	p := New(c, Config{})
	require.NoError(t, p.Report(context.Background(), cycle()))
	assert.Equal(t, "goei/inference", c.msgs[0].topic)

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &got))
	assert.Equal(t, "goei", got["device"])
	assert.NotContains(t, got, "frame")
}

func TestPublisher_Errors(t *testing.T) {
	boom := errors.New("not connected")
	p := New(&fakeClient{token: doneToken(boom)}, Config{})
	assert.ErrorIs(t, p.Report(context.Background(), cycle()), boom)

	pending := &fakeToken{done: make(chan struct{})}
	p = New(&fakeClient{token: pending}, Config{PublishTimeout: 10 * time.Millisecond})
	assert.ErrorIs(t, p.Report(context.Background(), cycle()), ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = New(&fakeClient{token: pending}, Config{})
	assert.ErrorIs(t, p.Report(ctx, cycle()), context.Canceled)
}

func TestConnect_RequiresBroker(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), Config{
		Broker:         "tcp://127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	})
	assert.Error(t, err)
}
