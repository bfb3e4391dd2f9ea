package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

func TestReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	ok, err := Reachable(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	alert := types.Alert{Labels: model.LabelSet{"instance": model.LabelValue(ln.Addr().String())}}
	ok, err = ReachableAlert(context.Background(), alert, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ok, err := Reachable(context.Background(), addr, 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReachableRejectsMalformedInstance(t *testing.T) {
	for _, instance := range []string{"", "camera", ":8080", "camera:http", "camera:0", "camera:70000"} {
		t.Run(instance, func(t *testing.T) {
			_, err := Reachable(context.Background(), instance, time.Second)
			assert.ErrorIs(t, err, types.ErrFormat)
		})
	}
}
