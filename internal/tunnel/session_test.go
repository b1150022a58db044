package tunnel

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Success(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()

	assert.True(t, sess.alive.Load())
}

func TestConnect_AuthError(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, "wrong"), testOptions(), zerolog.Nop())
	assert.Nil(t, sess)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
	assert.Equal(t, testUser, authErr.User)
}

func TestConnect_ConnectError(t *testing.T) {
	endpoint := models.DeviceEndpoint{Host: "127.0.0.1", Port: closedPort(t), Username: testUser, Password: testPassword}

	sess, err := Connect(context.Background(), endpoint, testOptions(), zerolog.Nop())
	assert.Nil(t, sess)

	var connectErr *ConnectError
	require.True(t, errors.As(err, &connectErr), "expected ConnectError, got %v", err)
	var authErr *AuthError
	assert.False(t, errors.As(err, &authErr))
}

func TestConnect_CancelDuringHandshake(t *testing.T) {
	// accepts TCP but never speaks SSH
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(5 * time.Second)
		}
	}()

	endpoint := models.DeviceEndpoint{Host: "127.0.0.1", Port: listenerPort(ln), Username: testUser, Password: testPassword}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	sess, err := Connect(ctx, endpoint, testOptions(), zerolog.Nop())
	assert.Nil(t, sess)
	assert.Less(t, time.Since(start), 2*time.Second)

	var connectErr *ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestReverseForward_Rejected(t *testing.T) {
	device := startDevice(t, false)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()

	err = sess.RequestReverseForward(0)
	var forwardErr *ForwardRequestError
	require.True(t, errors.As(err, &forwardErr), "expected ForwardRequestError, got %v", err)
	assert.Equal(t, "127.0.0.1:0", forwardErr.BindAddr)
}

func TestRequestReverseForward_OnlyOnce(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.RequestReverseForward(0))
	assert.NotZero(t, sess.BoundPort())

	var forwardErr *ForwardRequestError
	assert.True(t, errors.As(sess.RequestReverseForward(0), &forwardErr))
}

func TestRunAcceptLoop_WithoutForward(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()

	assert.ErrorIs(t, sess.RunAcceptLoop(context.Background(), "127.0.0.1", 1), ErrNoForward)
}

func TestRunAcceptLoop_LocalConnectFailureIsContained(t *testing.T) {
	device := startDevice(t, true)
	echo := startEchoServer(t)

	var attempts atomic.Int32
	opts := testOptions()
	opts.DialLocal = func(ctx context.Context, network, address string) (net.Conn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		var dialer net.Dialer
		return dialer.DialContext(ctx, network, address)
	}

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), opts, zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.RequestReverseForward(0))

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- sess.RunAcceptLoop(ctx, "127.0.0.1", listenerPort(echo)) }()

	// first channel: local dial fails, the device side sees the channel closed
	first := dialDevicePort(t, sess.BoundPort())
	defer first.Close()
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = first.Read(make([]byte, 1))
	assert.Error(t, err)

	// second channel still works
	second := dialDevicePort(t, sess.BoundPort())
	defer second.Close()
	assert.Equal(t, "ping", roundTrip(t, second, "ping"))

	status := statusOf(sess)
	assert.Equal(t, int64(2), status.AcceptedChannels)
	assert.Equal(t, int64(1), status.FailedChannels)

	cancel()
	select {
	case err := <-loopDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not stop after cancel")
	}
}

func TestRunAcceptLoop_ClosedLocalPort(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.RequestReverseForward(0))

	go sess.RunAcceptLoop(context.Background(), "127.0.0.1", closedPort(t))

	for i := 0; i < 3; i++ {
		conn := dialDevicePort(t, sess.BoundPort())
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, err := conn.Read(make([]byte, 1))
		assert.Error(t, err)
		conn.Close()
	}

	assert.Eventually(t, func() bool {
		return statusOf(sess).FailedChannels == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunAcceptLoop_RefreshesLiveness(t *testing.T) {
	device := startDevice(t, true)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.RequestReverseForward(0))

	go sess.RunAcceptLoop(context.Background(), "127.0.0.1", closedPort(t))

	before := statusOf(sess).LastPoll
	assert.Eventually(t, func() bool {
		st := statusOf(sess)
		return st.Alive && st.LastPoll.After(before)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSession_CloseReleasesRelays(t *testing.T) {
	device := startDevice(t, true)
	echo := startEchoServer(t)

	sess, err := Connect(context.Background(), device.endpoint(testUser, testPassword), testOptions(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sess.RequestReverseForward(0))
	port := sess.BoundPort()

	go sess.RunAcceptLoop(context.Background(), "127.0.0.1", listenerPort(echo))

	conn := dialDevicePort(t, port)
	defer conn.Close()
	assert.Equal(t, "ping", roundTrip(t, conn, "ping"))
	assert.Equal(t, 1, statusOf(sess).ActiveRelays)

	sess.Close()
	assert.NoError(t, sess.Close())

	st := statusOf(sess)
	assert.Equal(t, 0, st.ActiveRelays)
	assert.False(t, st.Alive)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
