package jobs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-platform/capsync/internal/authz"
)

func TestNewWorkerRequiresReconciler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	assert.Error(t, err)
}

func TestUnmarshalDropsMalformedPayload(t *testing.T) {
	task := asynq.NewTask(TaskCapabilityUpdated, []byte("{not json"))
	var p CapabilityUpdatedPayload
	err := unmarshal(task, &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestClassifyDropsTerminalRemoteErrors(t *testing.T) {
	terminal := fmt.Errorf("grant endpoints: %w",
		&authz.RemoteError{StatusCode: http.StatusUnprocessableEntity, Message: "bad endpoint"})
	err := classify(terminal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	var remote *authz.RemoteError
	assert.True(t, errors.As(err, &remote))
}

func TestClassifyKeepsRetryableErrors(t *testing.T) {
	outage := fmt.Errorf("grant endpoints: %w",
		&authz.RemoteError{StatusCode: http.StatusServiceUnavailable, Message: "down"})
	assert.False(t, errors.Is(classify(outage), asynq.SkipRetry))

	plain := errors.New("policy lookup failed")
	assert.False(t, errors.Is(classify(plain), asynq.SkipRetry))
}

func TestUnmarshalRestoresPayload(t *testing.T) {
	task, err := NewTenantPermissionsChangedTask(TenantPermissionsChangedPayload{Tenant: "acme"})
	require.NoError(t, err)

	var p TenantPermissionsChangedPayload
	require.NoError(t, unmarshal(task, &p))
	assert.Equal(t, "acme", p.Tenant)
}
