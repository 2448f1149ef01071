package shape

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// HitSummary is the best hit of one candidate in the combined hits message
type HitSummary struct {
	Candidate string  `json:"candidate"`
	Reference string  `json:"reference"`
	Score     float64 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher publishes screening hits to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	summaries     map[string]HitSummary
	mu            sync.RWMutex
}

// NewPublisher creates a hit publisher. The topic prefix follows PublishPrefix.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, config *Config) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: PublishPrefix(config),
		qos:           1,
		retain:        true,
		summaries:     make(map[string]HitSummary),
	}
}

// PublishHits publishes a candidate's hits to <prefix>/hits/<candidate> and
// refreshes the combined summary on <prefix>/hits
func (p *Publisher) PublishHits(candidate string, hits []Hit) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	if len(hits) > 0 {
		best := hits[0]
		for _, h := range hits[1:] {
			if h.Score > best.Score {
				best = h
			}
		}
		p.summaries[candidate] = HitSummary{
			Candidate: candidate,
			Reference: best.ReferenceName,
			Score:     best.Score,
			Timestamp: time.Now().Unix(),
		}
	} else {
		delete(p.summaries, candidate)
	}
	p.mu.Unlock()

	if err := p.publishCandidate(candidate, hits); err != nil {
		log.Printf("[MQTT] Error publishing hits for %s: %v", candidate, err)
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] Error publishing hit summary: %v", err)
		return err
	}

	return nil
}

func (p *Publisher) publishCandidate(candidate string, hits []Hit) error {
	topic := fmt.Sprintf("%s/hits/%s", p.publishPrefix, candidate)

	if hits == nil {
		hits = []Hit{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"candidate": candidate,
		"hits":      hits,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling hits: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[MQTT] Published %d hits for %s", len(hits), candidate)
	return nil
}

func (p *Publisher) publishCombined() error {
	summaries := p.Summaries()
	topic := fmt.Sprintf("%s/hits", p.publishPrefix)

	payload, err := json.Marshal(map[string]interface{}{
		"candidates": summaries,
		"timestamp":  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling hit summary: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// Summaries returns the best hit per candidate by descending score
func (p *Publisher) Summaries() []HitSummary {
	p.mu.RLock()
	summaries := make([]HitSummary, 0, len(p.summaries))
	for _, s := range p.summaries {
		summaries = append(summaries, s)
	}
	p.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Score != summaries[j].Score {
			return summaries[i].Score > summaries[j].Score
		}
		return summaries[i].Candidate < summaries[j].Candidate
	})
	return summaries
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
