package service

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/livestream-ai-worker/internal/consumer"
	"github.com/cuongbtq/livestream-ai-worker/internal/jobqueue"
	"github.com/cuongbtq/livestream-ai-worker/shared/logger"
	"github.com/cuongbtq/livestream-ai-worker/shared/rabbitmq"
)

func TestDialer_StopDuringStalledHandshake(t *testing.T) {
	// accepts connections but never speaks AMQP
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		for conn := range accepted {
			conn.Close()
		}
	})

	addr := listener.Addr().(*net.TCPAddr)
	supervisor := consumer.NewSupervisor(&consumer.SupervisorConfig{
		Logger: logger.Discard(),
		Dial: Dialer(&rabbitmq.Config{
			Host:              addr.IP.String(),
			Port:              addr.Port,
			User:              "guest",
			Password:          "guest",
			QueueName:         "pipelines",
			RetryAttempts:     1,
			ConnectionTimeout: 4 * time.Second,
		}, logger.Discard()),
		Sink:        jobqueue.New(),
		ConsumerTag: "test",
	})

	errCh := make(chan error, 1)
	go func() { errCh <- supervisor.Run(context.Background()) }()

	time.Sleep(300 * time.Millisecond)
	stopped := time.Now()
	supervisor.Stop()

	select {
	case err := <-errCh:
		require.NoError(t, err)
		assert.Less(t, time.Since(stopped), time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not return after Stop")
	}
}
