package roof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/roofmesh/internal/logging"
)

// ErrNotConnected is returned when publishing without a connected client.
var ErrNotConnected = errors.New("mqtt client not connected")

const publishTimeout = 2 * time.Second

// QASummary is the compact message published to {prefix}/qa.
type QASummary struct {
	MeasurementID        string  `json:"measurementId"`
	Lat                  float64 `json:"lat"`
	Lng                  float64 `json:"lng"`
	Outcome              string  `json:"outcome"`
	Passed               bool    `json:"passed"`
	OverallScore         float64 `json:"overallScore"`
	RequiresManualReview bool    `json:"requiresManualReview"`
	Squares              float64 `json:"squares,omitempty"`
	FootprintSource      string  `json:"footprintSource"`
	Timestamp            int64   `json:"timestamp"`
}

// NewQASummary condenses result into a QASummary.
func NewQASummary(result *MeasurementResult) QASummary {
	s := QASummary{
		MeasurementID:   result.ID,
		Lat:             result.Lat,
		Lng:             result.Lng,
		Outcome:         MeasurementOutcome(result),
		FootprintSource: result.APISources.Footprint,
		Timestamp:       result.RequestedAt.Unix(),
	}
	if result.QA != nil {
		s.Passed = result.QA.Passed
		s.OverallScore = result.QA.OverallScore
		s.RequiresManualReview = result.QA.RequiresManualReview
	}
	if result.Areas != nil {
		s.Squares = result.Areas.Totals.Squares
	}
	return s
}

// Publisher hands finished measurements to downstream consumers over MQTT.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	retain  bool
	logger  logging.Logger
	mu      sync.RWMutex
	latest  map[string]QASummary
	timeout time.Duration
}

// NewPublisher creates a publisher. A nil client disables publishing; every
// publish then returns ErrNotConnected.
func NewPublisher(client mqtt.Client, prefix string, logger logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		qos:     1,
		logger:  logging.OrNoop(logger),
		latest:  make(map[string]QASummary),
		timeout: publishTimeout,
	}
}

// MeasurementTopic is the topic a full result is published to.
func (p *Publisher) MeasurementTopic(id string) string {
	return fmt.Sprintf("%s/measurements/%s", p.prefix, id)
}

// QATopic is the topic QA summaries are published to.
func (p *Publisher) QATopic() string {
	return p.prefix + "/qa"
}

// PublishMeasurement publishes the full result to {prefix}/measurements/{id}
// and its QA summary to {prefix}/qa.
func (p *Publisher) PublishMeasurement(ctx context.Context, result *MeasurementResult) error {
	if result == nil {
		return errors.New("nil measurement")
	}
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	log := logging.ForContext(ctx, p.logger)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling measurement: %w", err)
	}
	if err := p.publish(p.MeasurementTopic(result.ID), false, payload); err != nil {
		log.Error(ctx, "publishing measurement failed", logging.Err(err))
		return err
	}

	summary := NewQASummary(result)
	p.mu.Lock()
	p.latest[result.ID] = summary
	p.mu.Unlock()

	payload, err = json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling qa summary: %w", err)
	}
	p.mu.RLock()
	retain := p.retain
	p.mu.RUnlock()
	if err := p.publish(p.QATopic(), retain, payload); err != nil {
		log.Error(ctx, "publishing qa summary failed", logging.Err(err))
		return err
	}

	log.Debug(ctx, "published measurement",
		logging.String("topic", p.MeasurementTopic(result.ID)),
		logging.String("outcome", summary.Outcome))
	return nil
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	p.mu.RLock()
	qos := p.qos
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing to %s: timed out after %v", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Summary returns the last published QA summary for a measurement.
func (p *Publisher) Summary(id string) (QASummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.latest[id]
	return s, ok
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.mu.Lock()
		p.qos = qos
		p.mu.Unlock()
	}
}

// SetRetain sets whether QA summaries are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	p.retain = retain
	p.mu.Unlock()
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
