package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, ParseBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestKafkaTopicNaming(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Equal(t, "possettle.invoice.finalized", p.Topic(TypeInvoiceFinalized))

	custom := NewKafkaPublisher([]string{"localhost:9092"}, "shop1")
	assert.Equal(t, "shop1.transaction.voided", custom.Topic(TypeTransactionVoided))
	assert.NoError(t, custom.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypePendingCreated}))
	assert.NoError(t, p.Close())
}
