package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled needs nothing", Config{Enabled: false}, false},
		{"enabled valid", Config{Enabled: true, ServiceName: "chunkd", Endpoint: "localhost:4317"}, false},
		{"enabled missing service", Config{Enabled: true, Endpoint: "localhost:4317"}, true},
		{"enabled missing endpoint", Config{Enabled: true, ServiceName: "chunkd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}
