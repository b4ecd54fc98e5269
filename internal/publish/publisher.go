// Package publish announces finished programmes over NATS.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/objectstore"
)

const connectTimeout = 10 * time.Second

var (
	// ErrSubjectEmpty indicates that no announcement subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrProgrammeEmpty indicates an attempt to publish an empty programme.
	ErrProgrammeEmpty = errors.New("programme cannot be empty")
	// ErrShowEmpty indicates an announcement without a show name.
	ErrShowEmpty = errors.New("show cannot be empty")
)

const (
	logFmtUploaded  = "Uploaded programme for %s to %s"
	logFmtAnnounced = "Announced programme %s on %s"
	logFmtConnected = "Publishing programmes to bucket %s, announcing on %s"
)

// NatsPublisher uploads programmes to an object store and announces them on
// a NATS subject.
type NatsPublisher struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	log            *logger.Logger
}

// NewNatsPublisher creates a publisher.
func NewNatsPublisher(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	log *logger.Logger,
) (*NatsPublisher, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsPublisher{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		log:            log,
	}, nil
}

// Connect dials url, opens the programme bucket and returns a ready publisher.
// Close releases the connection.
func Connect(url, bucket, subject string, log *logger.Logger) (*NatsPublisher, error) {
	natsConnection, err := nats.Connect(url, nats.Name("bulletin-reader"), nats.Timeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	publisher, err := NewNatsPublisher(natsConnection, subject, store, log)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	log.Info(logFmtConnected, store.Bucket(), subject)

	return publisher, nil
}

// Publish uploads data and announces it. The run ID is generated when empty.
// It returns the object key.
func (p *NatsPublisher) Publish(ctx context.Context, announcement core.Announcement, data []byte) (string, error) {
	if announcement.Show == "" {
		return "", ErrShowEmpty
	}

	if len(data) == 0 {
		return "", ErrProgrammeEmpty
	}

	if announcement.RunID == "" {
		announcement.RunID = uuid.NewString()
	}

	if announcement.Created.IsZero() {
		announcement.Created = time.Now().UTC()
	}

	announcement.Key = objectstore.ProgrammeKey(announcement.Show, announcement.RunID)

	err := p.store.Upload(ctx, announcement.Key, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload programme for key '%s': %w", announcement.Key, err)
	}

	p.log.Info(logFmtUploaded, announcement.Show, announcement.Key)

	err = p.announce(announcement)
	if err != nil {
		return "", err
	}

	p.log.Info(logFmtAnnounced, announcement.Key, p.subject)

	return announcement.Key, nil
}

// Close drains and closes the NATS connection.
func (p *NatsPublisher) Close() error {
	err := p.natsConnection.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain connection: %w", err)
	}

	return nil
}

// announce marshals and publishes the announcement.
func (p *NatsPublisher) announce(announcement core.Announcement) error {
	payload, err := json.Marshal(announcement)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish announcement: %w", err)
	}

	err = p.natsConnection.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush announcement: %w", err)
	}

	return nil
}
