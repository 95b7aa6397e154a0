package lib

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

func GetKafkaProducerConfig(broker, clientId string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": broker,
		"client.id":         clientId,
		"acks":              "all",
	}
}

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaNotifier publishes events to a topic, keyed by booking so a
// booking's events stay ordered within a partition.
type KafkaNotifier struct {
	producer kafkaProducer
	topic    string
}

func NewKafkaNotifier(broker, clientId, topic string) (*KafkaNotifier, error) {
	p, err := kafka.NewProducer(GetKafkaProducerConfig(broker, clientId))
	if err != nil {
		log.Printf("Error on producer: %s\n", err.Error())
		return nil, err
	}
	n := newKafkaNotifier(p, topic)
	go n.watchDeliveries()
	return n, nil
}

func newKafkaNotifier(p kafkaProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, topic: topic}
}

func (n *KafkaNotifier) watchDeliveries() {
	for ev := range n.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.Printf("[Kafka] Delivery failed: %s\n", e.TopicPartition.Error.Error())
			}
		case kafka.Error:
			log.Printf("[Kafka] Producer error: %s\n", e.Error())
		}
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		log.Printf("[Kafka] Error encoding %s: %s\n", e.Name, err.Error())
		return
	}
	key := e.BookingID
	if key == "" {
		key = e.OwnerID
	}
	err = n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        []kafka.Header{{Key: "event", Value: []byte(e.Name)}},
	}, nil)
	if err != nil {
		log.Printf("[Kafka] Error producing %s: %s\n", e.Name, err.Error())
	}
}

func (n *KafkaNotifier) Close() {
	n.producer.Flush(5000)
	n.producer.Close()
}
