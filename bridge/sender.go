// Package bridge carries encoded vault messages between the retail and
// custody chains. The transport contract is at-least-once and unordered
// across message types; everything downstream is written to tolerate
// redelivery.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"crossvault/bridge/codec"
	"crossvault/observability/metrics"
)

var (
	ErrSenderClosed    = errors.New("bridge: sender closed")
	ErrInsufficientFee = errors.New("bridge: supplied fee below quote")
	ErrNilEndpoint     = errors.New("bridge: endpoint not configured")
	ErrNilRelayClient  = errors.New("bridge: relay client not configured")
	errDeliveryDropped = errors.New("bridge: message dropped after retries")
)

const (
	defaultRetryBudget  = 3
	defaultQueueBacklog = 256
)

// Sender dispatches an encoded message toward the remote counterpart. The
// supplied fee must cover the transport quote for the message.
type Sender interface {
	Send(ctx context.Context, msg codec.Message, fee *big.Int) error
	Close() error
}

// Endpoint is the raw delivery hop under a BridgeSender. Implementations are
// expected to be at-least-once; duplicate deliveries are legal.
type Endpoint interface {
	Deliver(raw []byte) error
}

type outbound struct {
	msgType codec.MessageType
	raw     []byte
}

// BridgeSender queues messages for asynchronous delivery through an Endpoint.
// Send enforces the codec fee quote before accepting a message so underfunded
// sends fail at the caller instead of stalling in the queue.
type BridgeSender struct {
	endpoint Endpoint
	queue    chan outbound
	logger   *slog.Logger
	metrics  *metrics.VaultMetrics
	retries  int

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewBridgeSender starts the delivery worker. Close drains nothing; queued
// messages at close time are dropped and counted as failures.
func NewBridgeSender(endpoint Endpoint, logger *slog.Logger, m *metrics.VaultMetrics) (*BridgeSender, error) {
	if endpoint == nil {
		return nil, ErrNilEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &BridgeSender{
		endpoint: endpoint,
		queue:    make(chan outbound, defaultQueueBacklog),
		logger:   logger.With("component", "bridge_sender"),
		metrics:  m,
		retries:  defaultRetryBudget,
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *BridgeSender) Send(ctx context.Context, msg codec.Message, fee *big.Int) error {
	required, _, _ := codec.QuoteFor(msg)
	if fee == nil || fee.Cmp(required) < 0 {
		return ErrInsufficientFee
	}
	item := outbound{msgType: msg.Type(), raw: codec.Encode(msg)}
	select {
	case <-s.closed:
		return ErrSenderClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- item:
		s.metrics.ObserveBridgeSend(item.msgType.String(), "bridge")
		return nil
	}
}

func (s *BridgeSender) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.queue)
	})
	<-s.done
	return nil
}

func (s *BridgeSender) run() {
	defer close(s.done)
	for item := range s.queue {
		if err := s.deliver(item); err != nil {
			s.metrics.ObserveBridgeFailure(item.msgType.String(), "bridge")
			s.logger.Error("bridge delivery failed",
				"type", item.msgType.String(),
				"bytes", len(item.raw),
				"error", err)
		}
	}
}

func (s *BridgeSender) deliver(item outbound) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if err = s.endpoint.Deliver(item.raw); err == nil {
			return nil
		}
		s.logger.Warn("bridge delivery retry",
			"type", item.msgType.String(),
			"attempt", attempt+1,
			"error", err)
	}
	return errors.Join(errDeliveryDropped, err)
}

// RelayClient is the trusted server hop under a RelaySender. The receipt id
// identifies the submission for reconciliation on the server side.
type RelayClient interface {
	Submit(ctx context.Context, receiptID string, raw []byte) error
}

// RelaySender pushes messages synchronously through a trusted relay. The
// relay charges out of band, so the fee argument only has to be non-negative.
type RelaySender struct {
	client  RelayClient
	logger  *slog.Logger
	metrics *metrics.VaultMetrics
}

func NewRelaySender(client RelayClient, logger *slog.Logger, m *metrics.VaultMetrics) (*RelaySender, error) {
	if client == nil {
		return nil, ErrNilRelayClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelaySender{
		client:  client,
		logger:  logger.With("component", "relay_sender"),
		metrics: m,
	}, nil
}

func (s *RelaySender) Send(ctx context.Context, msg codec.Message, fee *big.Int) error {
	if fee != nil && fee.Sign() < 0 {
		return ErrInsufficientFee
	}
	receipt := uuid.NewString()
	if err := s.client.Submit(ctx, receipt, codec.Encode(msg)); err != nil {
		s.metrics.ObserveBridgeFailure(msg.Type().String(), "relay")
		return err
	}
	s.metrics.ObserveBridgeSend(msg.Type().String(), "relay")
	s.logger.Info("relay submission accepted",
		"type", msg.Type().String(),
		"receipt", receipt)
	return nil
}

func (s *RelaySender) Close() error { return nil }
