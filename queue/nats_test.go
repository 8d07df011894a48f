package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/natsclient"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		fatal    bool
	}{
		{"closed", nats.ErrConnectionClosed, errors.ErrConnectionLost, true},
		{"not connected", natsclient.ErrNotConnected, errors.ErrNoConnection, false},
		{"reconnecting", fmt.Errorf("kv get: %w", nats.ErrConnectionReconnecting), errors.ErrNoConnection, false},
		{"circuit open", natsclient.ErrCircuitOpen, errors.ErrBrokerUnavailable, false},
		{"no responders", nats.ErrNoResponders, errors.ErrBrokerUnavailable, false},
		{"timeout", nats.ErrTimeout, errors.ErrConnectionTimeout, false},
		{"deadline", context.DeadlineExceeded, errors.ErrConnectionTimeout, false},
		{"other", fmt.Errorf("bucket gone"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "Push", "kv create")
			assert.ErrorIs(t, err, tt.err)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, tt.fatal, errors.IsFatal(err))
			assert.Equal(t, !tt.fatal, errors.IsTransient(err))
		})
	}
}
