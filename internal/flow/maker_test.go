package flow_test

import (
	"context"
	"errors"
	"testing"

	"miyu/internal/exchange"
	"miyu/internal/extract"
	"miyu/internal/flow"
	"miyu/internal/notifications"
	"miyu/internal/sampling"
	"miyu/internal/services"
)

type fakeRegistrar struct {
	requests []exchange.RegisterRequest
	err      error
}

func (r *fakeRegistrar) Register(_ context.Context, req exchange.RegisterRequest) (exchange.Confirmation, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return exchange.Confirmation{}, r.err
	}
	return exchange.Confirmation{StatusCode: 201, RequestID: "req-1"}, nil
}

func newMaker(loop *fakeLoop, reg *fakeRegistrar, opts ...flow.MakerOption) *flow.Maker {
	return flow.NewMaker(loop, reg, 4, opts...)
}

func publishSample(loop *fakeLoop, rows int) {
	sample := sampleWith(rows)
	sample.Image = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	loop.publish(context.Background(), sample)
}

func TestMakerCaptureRequiresSample(t *testing.T) {
	m := newMaker(&fakeLoop{}, &fakeRegistrar{})
	_, err := m.Capture()
	if !errors.Is(err, flow.ErrNoSample) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrNoSample validation error, got %v", err)
	}
}

func TestMakerSubmitValidation(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		message    string
		rows       int
		capture    bool
		want       error
	}{
		{"missing message", "abcd", "", 2, true, flow.ErrMessageRequired},
		{"empty editor message", "abcd", "<p><br></p>", 2, true, flow.ErrMessageRequired},
		{"short passphrase", "abc", "hello", 2, true, flow.ErrPassphraseTooShort},
		{"nothing captured", "abcd", "hello", 2, false, flow.ErrNoDescriptors},
		{"empty descriptors", "abcd", "hello", 0, true, flow.ErrNoDescriptors},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := &fakeLoop{}
			reg := &fakeRegistrar{}
			m := newMaker(loop, reg)
			m.SetPassphrase(tt.passphrase)
			m.SetMessage(tt.message)
			publishSample(loop, tt.rows)
			if tt.capture {
				if _, err := m.Capture(); err != nil {
					t.Fatalf("capture: %v", err)
				}
			}

			_, err := m.Submit(context.Background())
			if !errors.Is(err, tt.want) || !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(reg.requests) != 0 {
				t.Fatal("invalid form must not reach the backend")
			}
		})
	}
}

func TestMakerSubmitSuccessClearsForm(t *testing.T) {
	loop := &fakeLoop{}
	reg := &fakeRegistrar{}
	notifier := &recordingNotifier{}
	m := newMaker(loop, reg, flow.WithPicture(true), flow.WithMakerNotifier(notifier))
	m.SetPassphrase("café")
	m.SetMessage("see you at noon")
	publishSample(loop, 3)
	if _, err := m.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}

	conf, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if conf.RequestID != "req-1" {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if len(reg.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(reg.requests))
	}
	req := reg.requests[0]
	if req.Passphrase != "café" || req.Message != "<p>see you at noon</p>" || req.Descriptors.Rows() != 3 {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Picture) != 4 {
		t.Fatalf("expected picture to be sent, got %d bytes", len(req.Picture))
	}

	form := m.Form()
	if form.Passphrase != "" || form.Message != "" || form.Captured != nil {
		t.Fatalf("form not cleared: %+v", form)
	}
	if _, ok := m.Latest(); ok {
		t.Fatal("latest sample must be cleared")
	}
	if events := notifier.list(); len(events) != 1 || events[0] != notifications.EventMessageRegistered {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestMakerSubmitFailureKeepsForm(t *testing.T) {
	loop := &fakeLoop{}
	reg := &fakeRegistrar{err: &exchange.StatusError{Op: "register", StatusCode: 500, Message: "db down"}}
	m := newMaker(loop, reg)
	m.SetPassphrase("abcd")
	m.SetMessage("<p>hi</p>")
	publishSample(loop, 1)
	if _, err := m.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}

	_, err := m.Submit(context.Background())
	var statusErr *exchange.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 500 {
		t.Fatalf("expected status error, got %v", err)
	}
	form := m.Form()
	if form.Passphrase != "abcd" || form.Message != "<p>hi</p>" || form.Captured == nil {
		t.Fatalf("form must be kept on failure: %+v", form)
	}
	if req := reg.requests[0]; req.Picture != nil {
		t.Fatal("picture must not be sent unless enabled")
	}
}

func TestMakerCaptureFreezesSample(t *testing.T) {
	loop := &fakeLoop{}
	m := newMaker(loop, &fakeRegistrar{})
	publishSample(loop, 2)
	captured, err := m.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	loop.publish(context.Background(), sampling.Sample{Seq: 9, Descriptors: extract.Matrix{{7}}})

	form := m.Form()
	if form.Captured == nil || form.Captured.Seq != captured.Seq || form.Captured.Descriptors.Rows() != 2 {
		t.Fatalf("captured sample changed: %+v", form.Captured)
	}
}
