package shape

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CandidateHandler is called for every candidate received over MQTT.
// err is set when the payload could not be parsed; the candidate is then empty.
type CandidateHandler func(candidate Candidate, err error)

// MQTTClient manages the MQTT connection and the candidate subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     CandidateHandler
	isConnected bool
	mu          sync.RWMutex
}

// PublishPrefix returns the topic prefix from MQTT_PUBLISH_PREFIX, the config
// or the default, in that order
func PublishPrefix(config *Config) string {
	if prefix := os.Getenv("MQTT_PUBLISH_PREFIX"); prefix != "" {
		return prefix
	}
	if config != nil && config.MQTT.PublishPrefix != "" {
		return config.MQTT.PublishPrefix
	}
	return DefaultPublishPrefix
}

// CandidatesTopic returns the topic candidates are received on
func CandidatesTopic(config *Config) string {
	return PublishPrefix(config) + "/candidates"
}

// InitMQTT creates and connects an MQTT client for the screening service.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and
// this returns nil.
func InitMQTT(config *Config, handler CandidateHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] Disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no candidate handler provided")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Screening a candidate takes a while; keep other messages flowing
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the candidate topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := CandidatesTopic(c.config)
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.candidateMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("[MQTT] Subscribed to %s", topic)
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// candidateMessageHandler parses shape payloads and hands each contained
// candidate to the handler
func (c *MQTTClient) candidateMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] Received candidates (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

		shapes, err := ParseShapes(payload)
		if err != nil {
			log.Printf("[MQTT] Error parsing candidates: %v", err)
			c.handler(Candidate{}, err)
			return
		}
		for _, candidate := range GroupConformers(shapes) {
			c.handler(candidate, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientFromClient wraps an already configured mqtt.Client (such as
// MockClient). Call Subscribe once the client is connected.
func NewMQTTClientFromClient(client mqtt.Client, config *Config, handler CandidateHandler) *MQTTClient {
	if config == nil {
		config = DefaultConfig()
	}
	return &MQTTClient{
		client:      client,
		config:      config,
		handler:     handler,
		isConnected: client.IsConnected(),
	}
}

// Subscribe (re)subscribes to the candidate topic
func (c *MQTTClient) Subscribe() {
	c.onConnect(c.client)
}
