package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/gateway"
	"github.com/carebridge/rx-transmit/internal/script"
)

type fakePharmacyGateway struct {
	ack *gateway.Ack
	err error
	req *gateway.Request
}

func (f *fakePharmacyGateway) Send(ctx context.Context, req *gateway.Request) (*gateway.Ack, error) {
	f.req = req
	return f.ack, f.err
}

type fakeFaxGateway struct {
	result *gateway.FaxResult
	err    error
	dest   string
}

func (f *fakeFaxGateway) SendFax(ctx context.Context, destination string, document []byte) (*gateway.FaxResult, error) {
	f.dest = destination
	return f.result, f.err
}

type staticRenderer struct {
	err error
}

func (s *staticRenderer) Render(msg *script.Message) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF-1.4 rendered prescription"), nil
}

type fakeDocStore struct {
	stored      map[string][]byte
	contentType string
	err         error
}

func (f *fakeDocStore) StoreDocument(ctx context.Context, transmissionID, contentType string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[transmissionID] = data
	f.contentType = contentType
	return nil
}

func TestElectronicSendAccepted(t *testing.T) {
	gw := &fakePharmacyGateway{ack: &gateway.Ack{Status: gateway.AckAccepted, MessageID: "GW-1", ThreadID: "THR-1"}}
	e := NewElectronic(gw, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelElectronic}
	pharmacy := &rx.Pharmacy{ID: "ph-1", NCPDPID: "1234567", AcceptsElectronic: true}

	result, err := e.Send(context.Background(), tx, pharmacy, testMessage(t))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.State != rx.StateSent {
		t.Errorf("expected sent, got %s", result.State)
	}
	if result.GatewayMsgID != "GW-1" || result.GatewayThrID != "THR-1" {
		t.Errorf("expected gateway identifiers carried through, got %q/%q", result.GatewayMsgID, result.GatewayThrID)
	}
	if gw.req == nil || gw.req.NCPDPID != "1234567" {
		t.Error("expected request addressed by NCPDP ID")
	}
	if len(gw.req.Payload) == 0 {
		t.Error("expected XML payload in request")
	}
}

func TestElectronicSendRejected(t *testing.T) {
	gw := &fakePharmacyGateway{ack: &gateway.Ack{Status: "Error", Reason: "unknown pharmacy"}}
	e := NewElectronic(gw, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelElectronic}
	_, err := e.Send(context.Background(), tx, &rx.Pharmacy{NCPDPID: "1234567"}, testMessage(t))

	var rejected *rx.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Status != "Error" {
		t.Errorf("expected gateway status preserved, got %q", rejected.Status)
	}
}

func TestFaxSendRequiresFaxNumber(t *testing.T) {
	f := NewFax(&fakeFaxGateway{}, &staticRenderer{}, nil, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelFax}
	_, err := f.Send(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t))
	if !errors.Is(err, rx.ErrPharmacyUnreachable) {
		t.Fatalf("expected ErrPharmacyUnreachable for missing fax number, got %v", err)
	}
}

func TestFaxSend(t *testing.T) {
	gw := &fakeFaxGateway{result: &gateway.FaxResult{FaxID: "FAX-1", Status: "queued"}}
	docs := &fakeDocStore{}
	f := NewFax(gw, &staticRenderer{}, docs, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelFax}
	result, err := f.Send(context.Background(), tx, &rx.Pharmacy{ID: "ph-1", FaxNumber: "555-0100"}, testMessage(t))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.State != rx.StateFaxed {
		t.Errorf("expected faxed, got %s", result.State)
	}
	if result.GatewayMsgID != "FAX-1" {
		t.Errorf("expected fax ID carried through, got %q", result.GatewayMsgID)
	}
	if gw.dest != "555-0100" {
		t.Errorf("expected fax sent to pharmacy number, got %q", gw.dest)
	}
	if _, ok := docs.stored["tx-1"]; !ok {
		t.Error("expected faxed document persisted")
	}
}

func TestPrintSendStoresDocument(t *testing.T) {
	docs := &fakeDocStore{}
	p := NewPrint(&staticRenderer{}, docs, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelPrint}
	result, err := p.Send(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.State != rx.StatePrinted {
		t.Errorf("expected printed, got %s", result.State)
	}
	if _, ok := docs.stored["tx-1"]; !ok {
		t.Error("expected printable document persisted")
	}
	if docs.contentType != "application/pdf" {
		t.Errorf("expected PDF content type, got %q", docs.contentType)
	}
}

func TestPrintSendStorageFailureIsFatal(t *testing.T) {
	storeErr := errors.New("disk full")
	p := NewPrint(&staticRenderer{}, &fakeDocStore{err: storeErr}, nil)

	tx := &rx.Transmission{ID: "tx-1", Channel: rx.ChannelPrint}
	if _, err := p.Send(context.Background(), tx, &rx.Pharmacy{ID: "ph-1"}, testMessage(t)); !errors.Is(err, storeErr) {
		t.Fatalf("print storage failure must fail the attempt, got %v", err)
	}
}
