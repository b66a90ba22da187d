package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RecipientKind
	}{
		{"uuid user ref", "00000000-0000-0000-0000-000000000001", RecipientUserRef},
		{"random uuid", "8f14e45f-ceea-467f-9575-6e2f41d0a001", RecipientUserRef},
		{"plain address", "client@example.com", RecipientAddress},
		{"address with trim", "  ops@webq.com.br  ", RecipientAddress},
		{"bare word", "not-a-recipient", RecipientMalformed},
		{"empty", "", RecipientMalformed},
		{"numeric id", "12345", RecipientMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRecipient(tt.raw)
			require.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestParseRecipient_TrimsRaw(t *testing.T) {
	got := ParseRecipient("  client@example.com ")
	require.Equal(t, "client@example.com", got.Raw)
}

func TestQueueStatus_Terminal(t *testing.T) {
	require.False(t, QueuePending.Terminal())
	require.False(t, QueueProcessing.Terminal())
	require.True(t, QueueSent.Terminal())
	require.True(t, QueueFailed.Terminal())
	require.True(t, QueueSkipped.Terminal())
}
