package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFromAlert(t *testing.T) {
	tests := []struct {
		name    string
		labels  model.LabelSet
		want    Device
		wantErr string
	}{
		{
			name:   "valid",
			labels: model.LabelSet{"device_id": "D1", "port_number": "2201"},
			want:   Device{ID: "D1", Port: 2201},
		},
		{
			name:   "padded device id",
			labels: model.LabelSet{"device_id": " D1 ", "port_number": " 2201"},
			want:   Device{ID: "D1", Port: 2201},
		},
		{
			name:    "blank device id",
			labels:  model.LabelSet{"device_id": "  ", "port_number": "2201"},
			wantErr: "device_id",
		},
		{
			name:    "missing device id",
			labels:  model.LabelSet{"port_number": "2201"},
			wantErr: "device_id",
		},
		{
			name:    "missing port",
			labels:  model.LabelSet{"device_id": "D1"},
			wantErr: "port_number",
		},
		{
			name:    "non numeric port",
			labels:  model.LabelSet{"device_id": "D1", "port_number": "ssh"},
			wantErr: "not an integer",
		},
		{
			name:    "port out of range",
			labels:  model.LabelSet{"device_id": "D1", "port_number": "70000"},
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeviceFromAlert(Alert{Labels: tt.labels})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrFormat)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceID(t *testing.T) {
	assert.Equal(t, "D1", DeviceID(Alert{Labels: model.LabelSet{"device_id": "D1 "}}))
	assert.Equal(t, "", DeviceID(Alert{Labels: model.LabelSet{"alertname": "x"}}))
}

func TestAlertDecodeFromBackend(t *testing.T) {
	body := `{
		"labels": {"alertname": "depth sensor missing", "device_id": "D1", "port_number": "2201"},
		"annotations": {"summary": "no depth readings"},
		"startsAt": "2026-10-01T10:00:00Z",
		"endsAt": "2026-10-01T11:00:00Z",
		"fingerprint": "abc123",
		"status": {"state": "active", "silencedBy": [], "inhibitedBy": []}
	}`

	var a Alert
	require.NoError(t, json.Unmarshal([]byte(body), &a))

	assert.Equal(t, "depth sensor missing", a.Name())
	assert.Equal(t, "D1", a.Label(LabelDeviceID))
	assert.True(t, a.Active())
	assert.Equal(t, "abc123", a.ID())
	assert.Equal(t, "active", a.Status.State)
}

func TestAlertIDFallsBackToLabelFingerprint(t *testing.T) {
	a := Alert{Labels: model.LabelSet{"alertname": "x", "device_id": "D1"}}
	b := Alert{Labels: model.LabelSet{"device_id": "D1", "alertname": "x"}}
	c := Alert{Labels: model.LabelSet{"alertname": "x", "device_id": "D2"}}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestErrorTaxonomy(t *testing.T) {
	transport := &TransportError{Op: "GET", URL: "http://am", StatusCode: 502, Err: errors.New("bad gateway")}
	assert.ErrorIs(t, transport, ErrTransport)
	assert.NotErrorIs(t, transport, ErrFormat)
	assert.Contains(t, transport.Error(), "status 502")

	timeout := &RemoteExecutionError{Kind: RemoteTimeout, Target: "camera:2201", Command: "uptime"}
	assert.ErrorIs(t, timeout, ErrRemoteExecution)
	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsTimeout(&RemoteExecutionError{Kind: RemoteExit, ExitCode: 1}))
}
