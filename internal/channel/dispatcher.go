package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/observability/metrics"
	"github.com/carebridge/rx-transmit/internal/script"
)

// Dispatcher routes a pending transmission through its channel strategy and
// records the outcome in the ledger. It performs no retries and no
// deduplication: a second dispatch of the same ledger entry is an explicit
// caller decision, never an internal one, to avoid duplicate fills.
type Dispatcher struct {
	channels map[rx.Channel]TransmissionChannel
	recorder Recorder
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over the given channel strategies.
// timeout bounds every channel send, so a transmission can never sit
// pending indefinitely behind a hung gateway call.
func NewDispatcher(channels []TransmissionChannel, recorder Recorder, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	byMethod := make(map[rx.Channel]TransmissionChannel, len(channels))
	for _, ch := range channels {
		byMethod[ch.Method()] = ch
	}
	return &Dispatcher{
		channels: byMethod,
		recorder: recorder,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("transmission-dispatcher"),
	}
}

// Dispatch sends msg over the transmission's channel and returns the
// updated ledger state. Every failure is recorded in the ledger before the
// error is returned, so no outcome is ever silent. A gateway timeout is
// recorded with a distinguishable error, not left pending.
func (d *Dispatcher) Dispatch(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*rx.Transmission, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch_transmission",
		trace.WithAttributes(
			attribute.String("transmission_id", t.ID),
			attribute.String("channel", string(t.Channel)),
			attribute.String("pharmacy_id", pharmacy.ID),
		))
	defer span.End()

	ch, ok := d.channels[t.Channel]
	if !ok {
		return nil, fmt.Errorf("no strategy for channel %q", t.Channel)
	}

	request, err := msg.ToXMLCompact()
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	result, sendErr := ch.Send(sendCtx, t, pharmacy, msg)
	cancel()
	d.observeDuration(t.Channel, time.Since(start))

	if sendErr != nil {
		if errors.Is(sendErr, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			sendErr = fmt.Errorf("%s channel send after %s: %w", t.Channel, d.timeout, rx.ErrGatewayTimeout)
		}
		span.RecordError(sendErr)

		updated, recErr := d.recorder.UpdateState(ctx, t.ID, rx.StateFailed, rx.Update{
			Request:     request,
			ErrorDetail: sendErr.Error(),
		})
		if recErr != nil {
			d.logger.Error("failed to record dispatch failure",
				zap.String("transmission_id", t.ID),
				zap.NamedError("send_error", sendErr),
				zap.Error(recErr))
			return nil, fmt.Errorf("record dispatch failure: %w", recErr)
		}
		d.count(t.Channel, false)
		d.logger.Warn("transmission dispatch failed",
			zap.String("transmission_id", t.ID),
			zap.String("channel", string(t.Channel)),
			zap.Int("retry_count", updated.RetryCount),
			zap.Error(sendErr))
		return updated, sendErr
	}

	updated, err := d.recorder.UpdateState(ctx, t.ID, result.State, rx.Update{
		Request:      request,
		Response:     result.Response,
		GatewayMsgID: result.GatewayMsgID,
		GatewayThrID: result.GatewayThrID,
	})
	if err != nil {
		return nil, fmt.Errorf("record dispatch success: %w", err)
	}
	d.count(t.Channel, true)
	d.logger.Info("transmission dispatched",
		zap.String("transmission_id", t.ID),
		zap.String("channel", string(t.Channel)),
		zap.String("state", string(updated.State)))
	return updated, nil
}

func (d *Dispatcher) count(ch rx.Channel, success bool) {
	if d.metrics == nil {
		return
	}
	if success {
		d.metrics.TransmissionsDelivered.WithLabelValues(string(ch)).Inc()
	} else {
		d.metrics.TransmissionsFailed.WithLabelValues(string(ch)).Inc()
	}
}

func (d *Dispatcher) observeDuration(ch rx.Channel, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.DispatchDuration.WithLabelValues(string(ch)).Observe(elapsed.Seconds())
}
