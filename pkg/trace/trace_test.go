package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTrace_Disabled(t *testing.T) {
	shutdown, err := InitTrace("feedclient", Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTrace_UnknownExporter(t *testing.T) {
	_, err := InitTrace("feedclient", Config{Exporter: "zipkin"})
	assert.Error(t, err)
}
