package channel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/script"
)

type fakeChannel struct {
	method rx.Channel
	result *SendResult
	err    error
	block  bool
}

func (f *fakeChannel) Method() rx.Channel { return f.method }

func (f *fakeChannel) Send(ctx context.Context, t *rx.Transmission, p *rx.Pharmacy, msg *script.Message) (*SendResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

type fakeRecorder struct {
	updates []recordedUpdate
	err     error
}

type recordedUpdate struct {
	id    string
	state rx.State
	u     rx.Update
}

func (f *fakeRecorder) UpdateState(ctx context.Context, id string, next rx.State, u rx.Update) (*rx.Transmission, error) {
	f.updates = append(f.updates, recordedUpdate{id: id, state: next, u: u})
	if f.err != nil {
		return nil, f.err
	}
	retries := 0
	if next == rx.StateFailed {
		retries = len(f.updates)
	}
	return &rx.Transmission{ID: id, State: next, RetryCount: retries}, nil
}

func testMessage(t *testing.T) *script.Message {
	t.Helper()
	msg, err := script.Build(
		&rx.Transmission{ID: "tx-1"},
		&rx.Medication{ID: "med-1", Name: "Lisinopril", NDC: "00071-0222-23"},
		&rx.Order{ID: "ord-1", Quantity: 30, QuantityUnit: "EA", Sig: "Take one daily"},
		&rx.Patient{ID: "pat-1", FirstName: "John", LastName: "Doe"},
		&rx.Provider{ID: "prov-1", LastName: "Smith", NPI: "1234567890"},
		&rx.Pharmacy{ID: "ph-1", Name: "Main Street", NCPDPID: "1234567"},
		&rx.Signature{ID: "sig-1"},
	)
	if err != nil {
		t.Fatalf("build test message: %v", err)
	}
	return msg
}

func TestDispatchSuccess(t *testing.T) {
	rec := &fakeRecorder{}
	ch := &fakeChannel{
		method: rx.ChannelElectronic,
		result: &SendResult{
			State:        rx.StateSent,
			Response:     json.RawMessage(`{"status":"accepted"}`),
			GatewayMsgID: "GW-1",
		},
	}
	d := NewDispatcher([]TransmissionChannel{ch}, rec, time.Second, nil, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelElectronic, State: rx.StatePending}
	updated, err := d.Dispatch(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if updated.State != rx.StateSent {
		t.Errorf("expected sent, got %s", updated.State)
	}
	if len(rec.updates) != 1 {
		t.Fatalf("expected one ledger write, got %d", len(rec.updates))
	}
	up := rec.updates[0]
	if up.state != rx.StateSent {
		t.Errorf("ledger recorded %s, want sent", up.state)
	}
	if len(up.u.Request) == 0 {
		t.Error("expected request payload recorded")
	}
	if up.u.GatewayMsgID != "GW-1" {
		t.Errorf("expected gateway message ID recorded, got %q", up.u.GatewayMsgID)
	}
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	sendErr := errors.New("connection refused")
	ch := &fakeChannel{method: rx.ChannelFax, err: sendErr}
	d := NewDispatcher([]TransmissionChannel{ch}, rec, time.Second, nil, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelFax, State: rx.StatePending}
	updated, err := d.Dispatch(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t))
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected send error surfaced, got %v", err)
	}
	if updated == nil || updated.State != rx.StateFailed {
		t.Fatalf("expected failed ledger entry returned, got %+v", updated)
	}
	if len(rec.updates) != 1 {
		t.Fatalf("expected failure recorded, got %d writes", len(rec.updates))
	}
	if rec.updates[0].u.ErrorDetail == "" {
		t.Error("expected error detail recorded")
	}
}

func TestDispatchTimeout(t *testing.T) {
	rec := &fakeRecorder{}
	ch := &fakeChannel{method: rx.ChannelElectronic, block: true}
	d := NewDispatcher([]TransmissionChannel{ch}, rec, 20*time.Millisecond, nil, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelElectronic, State: rx.StatePending}
	_, err := d.Dispatch(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t))
	if !errors.Is(err, rx.ErrGatewayTimeout) {
		t.Fatalf("expected ErrGatewayTimeout, got %v", err)
	}
	if len(rec.updates) != 1 || rec.updates[0].state != rx.StateFailed {
		t.Fatal("timeout must be recorded as a failed attempt, not left pending")
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := NewDispatcher(nil, &fakeRecorder{}, time.Second, nil, nil)
	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelPrint}

	if _, err := d.Dispatch(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t)); err == nil {
		t.Fatal("expected error for unconfigured channel")
	}
}
