package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidOrderTransition(t *testing.T) {
	allowed := [][2]string{
		{OrderStatusPending, OrderStatusProcessing},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusProcessing, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusDelivered},
	}
	for _, tr := range allowed {
		assert.True(t, ValidOrderTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]string{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusDelivered, OrderStatusPending},
		{OrderStatusCancelled, OrderStatusProcessing},
		{OrderStatusDelivered, OrderStatusDelivered},
	}
	for _, tr := range denied {
		assert.False(t, ValidOrderTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestAddressRoundTrip(t *testing.T) {
	in := Address{Street: "Via Roma 1", City: "Palermo", PostalCode: "90100", Country: "IT"}

	value, err := in.Value()
	require.NoError(t, err)

	var out Address
	require.NoError(t, out.Scan(value))
	assert.Equal(t, in, out)

	var empty Address
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, Address{}, empty)
}
