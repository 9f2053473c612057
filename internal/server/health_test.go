package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
)

func startHealth(t *testing.T) (*HealthService, healthpb.HealthClient) {
	t.Helper()
	hs := NewHealthService("127.0.0.1:0", zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Start() }()
	require.Eventually(t, func() bool { return hs.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	cc, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		cc.Close()
		hs.Stop()
		assert.NoError(t, <-errCh)
	})
	return hs, healthpb.NewHealthClient(cc)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) *healthpb.HealthCheckResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp
}

func TestHealthService_StartsNotServing(t *testing.T) {
	_, client := startHealth(t)
	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	assert.True(t, proto.Equal(want, checkStatus(t, client, "")))
}

func TestHealthService_SetServing(t *testing.T) {
	hs, client := startHealth(t)
	hs.SetServing("", true)
	hs.SetServing("postgres", false)

	serving := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	notServing := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	assert.True(t, proto.Equal(serving, checkStatus(t, client, "")))
	assert.True(t, proto.Equal(notServing, checkStatus(t, client, "postgres")))
}

func TestHealthService_StartFailsOnBadAddress(t *testing.T) {
	hs := NewHealthService("256.0.0.1:bad", zaptest.NewLogger(t))
	assert.Error(t, hs.Start())
}

func TestHealthMonitor_PublishesTransitions(t *testing.T) {
	hs, client := startHealth(t)
	core, logs := observer.New(zapcore.InfoLevel)

	var failing atomic.Bool
	check := func(context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}
	mon := NewHealthMonitor("postgres", 10*time.Millisecond, time.Second, check, hs, zap.New(core))
	done := make(chan error, 1)
	go func() { done <- mon.Start() }()

	serving := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	assert.Eventually(t, func() bool {
		return proto.Equal(serving, checkStatus(t, client, "postgres"))
	}, 2*time.Second, 10*time.Millisecond)

	failing.Store(true)
	notServing := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	assert.Eventually(t, func() bool {
		return proto.Equal(notServing, checkStatus(t, client, "postgres"))
	}, 2*time.Second, 10*time.Millisecond)

	// Let a few more failing ticks pass; only the transition is logged.
	time.Sleep(50 * time.Millisecond)
	mon.Stop()
	mon.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, 1, logs.FilterMessage("dependency healthy").Len())
	assert.Equal(t, 1, logs.FilterMessage("dependency health check failed").Len())
}
