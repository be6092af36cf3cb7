package config

import (
	"errors"
	"os"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	amqpConn   *amqp.Connection
	amqpConnMu sync.Mutex
)

// GetRabbitMQChannel opens a channel on the shared RABBITMQ_URL connection,
// dialing (or redialing after a broker restart) when needed.
func GetRabbitMQChannel() (*amqp.Channel, error) {
	url := strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	if url == "" {
		return nil, errors.New("RABBITMQ_URL is required")
	}

	amqpConnMu.Lock()
	defer amqpConnMu.Unlock()

	if amqpConn == nil || amqpConn.IsClosed() {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, err
		}
		amqpConn = conn
	}
	return amqpConn.Channel()
}

func CloseRabbitMQ() error {
	amqpConnMu.Lock()
	defer amqpConnMu.Unlock()
	if amqpConn == nil {
		return nil
	}
	err := amqpConn.Close()
	amqpConn = nil
	return err
}
