// Package worker provides a NATS worker that turns text-to-audio requests
// into published speaker artifacts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speaker-service/internal/core"
	"github.com/book-expert/speaker-service/internal/ingest"
)

const handleMessageTimeout = 2 * time.Minute

var (
	// ErrSubjectEmpty indicates that the subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrTextEmpty indicates that a request carried no text.
	ErrTextEmpty = errors.New("text cannot be empty")
)

// Ingester is the part of the ingestion pipeline the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, in ingest.RawInput) (core.Artifact, error)
}

// TextToAudioRequest is the payload of a request on the worker subject.
type TextToAudioRequest struct {
	Header events.EventHeader `json:"header"`
	Text   string             `json:"text"`
	Name   string             `json:"name,omitempty"`
}

// TextToAudioReply answers a request: either URL and PublicID, or Error.
type TextToAudioReply struct {
	Header   events.EventHeader `json:"header"`
	URL      string             `json:"url,omitempty"`
	PublicID string             `json:"public_id,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// NatsWorker listens for text-to-audio requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	ingester       Ingester
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. Workers sharing a
// non-empty queueGroup split the requests between them.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	ingester Ingester,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		ingester:       ingester,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for text-to-audio requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	request, err := w.parseAndValidateRequest(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate request: %v", err)
		w.respond(msg, TextToAudioReply{Header: request.Header, Error: err.Error()})

		return
	}

	artifact, err := w.ingester.Ingest(ctx, ingest.RawInput{
		Kind: ingest.KindText,
		Name: request.Name,
		Text: request.Text,
	})
	if err != nil {
		w.log.Error("Failed to process text-to-audio request %s: %v", request.Header.WorkflowID, err)
		w.respond(msg, TextToAudioReply{Header: request.Header, Error: err.Error()})

		return
	}

	w.respond(msg, TextToAudioReply{
		Header:   request.Header,
		URL:      artifact.Location,
		PublicID: artifact.PublicID,
	})
}

func (w *NatsWorker) respond(msg *nats.Msg, reply TextToAudioReply) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", reply.Header.WorkflowID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) parseAndValidateRequest(msg *nats.Msg) (TextToAudioRequest, error) {
	var request TextToAudioRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		return request, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	if strings.TrimSpace(request.Text) == "" {
		return request, ErrTextEmpty
	}

	return request, nil
}
