package shape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// handlerRecorder records CandidateHandler calls
type handlerRecorder struct {
	mock.Mock
}

func (h *handlerRecorder) handle(c Candidate, err error) {
	h.MethodCalled("handle", c.Name, len(c.Conformers), err)
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(DefaultConfig(), func(Candidate, error) {})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoHandler(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := DefaultConfig()
	config.MQTT.Broker = "tcp://localhost:1883"

	_, err := InitMQTT(config, nil)
	assert.Error(t, err)
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected(), "Client should be connected after setConnected(true)")

	client.setConnected(false)
	assert.False(t, client.IsConnected(), "Client should not be connected after setConnected(false)")
}

func TestPublishPrefix(t *testing.T) {
	config := DefaultConfig()

	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, DefaultPublishPrefix, PublishPrefix(nil))
	assert.Equal(t, DefaultPublishPrefix, PublishPrefix(config))

	config.MQTT.PublishPrefix = "lab"
	assert.Equal(t, "lab", PublishPrefix(config))
	assert.Equal(t, "lab/candidates", CandidatesTopic(config))

	t.Setenv("MQTT_PUBLISH_PREFIX", "env")
	assert.Equal(t, "env", PublishPrefix(config), "environment wins over config")
	assert.Equal(t, "env/candidates", CandidatesTopic(config))
}

func TestMQTTClient_SubscribeAndReceive(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	recorder := &handlerRecorder{}
	recorder.On("handle", "aspirin", 2, nil).Return().Once()
	recorder.On("handle", "shape-3", 1, nil).Return().Once()

	client := NewMQTTClientFromClient(mockClient, DefaultConfig(), recorder.handle)
	assert.True(t, client.IsConnected())
	client.Subscribe()

	qos, ok := mockClient.SubscribedQoS("shapealign/candidates")
	require.True(t, ok, "client should subscribe to the candidates topic")
	assert.Equal(t, byte(1), qos)

	payload := `[
  {"name": "aspirin", "elements": [{"position": [0, 0, 0]}]},
  {"name": "aspirin", "elements": [{"position": [1, 0, 0]}]},
  {"elements": [{"position": [2, 0, 0]}]}
]`
	require.True(t, mockClient.SimulateMessage("shapealign/candidates", []byte(payload)))
	recorder.AssertExpectations(t)
}

func TestMQTTClient_MalformedPayload(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	var gotErr error
	calls := 0
	client := NewMQTTClientFromClient(mockClient, DefaultConfig(), func(c Candidate, err error) {
		calls++
		gotErr = err
		assert.Empty(t, c.Name)
	})
	client.Subscribe()

	require.True(t, mockClient.SimulateMessage(CandidatesTopic(DefaultConfig()), []byte("{broken")))
	assert.Equal(t, 1, calls)
	assert.Error(t, gotErr)
}

func TestMQTTClient_SubscribeError(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)
	mockClient.SetSubscribeError(errors.New("denied"))

	client := NewMQTTClientFromClient(mockClient, nil, func(Candidate, error) {})
	client.Subscribe()

	_, ok := mockClient.SubscribedQoS(CandidatesTopic(nil))
	assert.False(t, ok)
	assert.True(t, client.IsConnected(), "a failed subscription keeps the connection")
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnected(true)

	client := NewMQTTClientFromClient(mockClient, nil, func(Candidate, error) {})
	client.Disconnect()

	assert.False(t, client.IsConnected())
	assert.False(t, mockClient.IsConnected())
	assert.Same(t, mockClient, client.GetClient())
}

func TestMockClient(t *testing.T) {
	c := NewMockClient()

	token := c.Publish("t", 0, false, "x")
	assert.Error(t, token.Error(), "publishing while disconnected fails")

	c.SetConnectError(errors.New("refused"))
	assert.Error(t, c.Connect().Error())
	assert.False(t, c.IsConnected())

	c.SetConnectError(nil)
	assert.NoError(t, c.Connect().Error())
	assert.True(t, c.IsConnected())

	assert.NoError(t, c.Publish("a", 1, true, []byte("one")).Error())
	assert.NoError(t, c.Publish("b", 0, false, "two").Error())
	assert.NoError(t, c.Publish("a", 1, true, []byte("three")).Error())

	assert.Len(t, c.GetPublishedMessages(), 3)
	msgs := c.MessagesOn("a")
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", string(msgs[1].Payload))
	assert.True(t, msgs[1].Retain)

	c.SetPublishError(errors.New("full"))
	assert.Error(t, c.Publish("a", 1, true, []byte("four")).Error())
	assert.Len(t, c.GetPublishedMessages(), 3)

	assert.False(t, c.SimulateMessage("nobody", nil))
	assert.NoError(t, c.Unsubscribe("a").Error())
}
