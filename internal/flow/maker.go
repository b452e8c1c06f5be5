package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"miyu/internal/exchange"
	"miyu/internal/gate"
	"miyu/internal/logging"
	"miyu/internal/message"
	"miyu/internal/notifications"
	"miyu/internal/sampling"
	"miyu/internal/services"
)

var (
	// ErrNoSample is returned by Capture before the loop has published anything.
	ErrNoSample = errors.New("no sample captured yet")
	// ErrMessageRequired rejects a submission with an empty message.
	ErrMessageRequired = errors.New("message is required")
	// ErrPassphraseTooShort rejects a passphrase below the minimum length.
	ErrPassphraseTooShort = errors.New("passphrase is too short")
	// ErrNoDescriptors rejects a submission without a captured fingerprint.
	ErrNoDescriptors = errors.New("no captured descriptors")
)

// Form is a snapshot of the maker's fields.
type Form struct {
	Passphrase string
	Message    string
	Captured   *sampling.Sample
}

// MakerOption customises a Maker.
type MakerOption func(*Maker)

// WithMakerLogger attaches a logger.
func WithMakerLogger(logger *slog.Logger) MakerOption {
	return func(m *Maker) {
		m.logger = logging.NewComponentLogger(logger, "maker")
	}
}

// WithMakerNotifier routes registration and error events to svc.
func WithMakerNotifier(svc notifications.Service) MakerOption {
	return func(m *Maker) {
		if svc != nil {
			m.notifier = svc
		}
	}
}

// WithPicture sends the captured JPEG along with the descriptors.
func WithPicture(enabled bool) MakerOption {
	return func(m *Maker) {
		m.sendPicture = enabled
	}
}

// Maker is safe for concurrent use.
type Maker struct {
	loop        Sampler
	client      Registrar
	minLength   int
	logger      *slog.Logger
	notifier    notifications.Service
	sendPicture bool

	mu         sync.Mutex
	passphrase string
	message    string
	captured   *sampling.Sample
	submitting bool
}

// NewMaker constructs a maker over loop and client.
func NewMaker(loop Sampler, client Registrar, minLength int, opts ...MakerOption) *Maker {
	if minLength < 1 {
		minLength = 1
	}
	m := &Maker{
		loop:      loop,
		client:    client,
		minLength: minLength,
		logger:    logging.NewComponentLogger(nil, "maker"),
		notifier:  notifications.NewNoop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins sampling so the latest sample can be captured.
func (m *Maker) Start(ctx context.Context) error {
	if err := m.loop.Start(ctx); err != nil && !errors.Is(err, sampling.ErrRunning) {
		return services.Wrap(services.ErrExternalTool, "maker", "start sampling", "", err)
	}
	return nil
}

// Close stops sampling.
func (m *Maker) Close() {
	m.loop.Stop()
}

// SetPassphrase stores the NFC form of p.
func (m *Maker) SetPassphrase(p string) {
	m.mu.Lock()
	m.passphrase = gate.Normalize(p)
	m.mu.Unlock()
}

// SetMessage stores the message; plain text is converted to HTML.
func (m *Maker) SetMessage(text string) {
	m.mu.Lock()
	m.message = message.Compose(text)
	m.mu.Unlock()
}

// Latest returns the most recent sample without freezing it.
func (m *Maker) Latest() (sampling.Sample, bool) {
	return m.loop.Latest()
}

// Capture freezes the latest sample as the fingerprint to register.
func (m *Maker) Capture() (sampling.Sample, error) {
	sample, ok := m.loop.Latest()
	if !ok {
		return sampling.Sample{}, services.Wrap(services.ErrValidation, "maker", "capture", "", ErrNoSample)
	}
	sample.Descriptors = sample.Descriptors.Clone()
	m.mu.Lock()
	m.captured = &sample
	m.mu.Unlock()
	m.logger.Info("sample captured",
		logging.Uint64(logging.FieldTick, sample.Seq),
		logging.Int("descriptor_rows", sample.Descriptors.Rows()),
		logging.Int("keypoints", sample.Keypoints),
	)
	return sample, nil
}

// Form returns the current field values.
func (m *Maker) Form() Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	form := Form{Passphrase: m.passphrase, Message: m.message}
	if m.captured != nil {
		c := *m.captured
		form.Captured = &c
	}
	return form
}

// Validate checks that the form can be submitted.
func (m *Maker) Validate() error {
	form := m.Form()
	return m.validate(form)
}

func (m *Maker) validate(form Form) error {
	switch {
	case message.IsBlank(form.Message):
		return services.Wrap(services.ErrValidation, "maker", "submit", "", ErrMessageRequired)
	case gate.RuneLength(form.Passphrase) < m.minLength:
		return services.Wrap(services.ErrValidation, "maker", "submit", "", ErrPassphraseTooShort)
	case form.Captured == nil || form.Captured.Descriptors.Empty():
		return services.Wrap(services.ErrValidation, "maker", "submit", "", ErrNoDescriptors)
	}
	return nil
}

// Submit registers the form. On success every field is cleared; on failure
// the form is kept so the user can retry.
func (m *Maker) Submit(ctx context.Context) (exchange.Confirmation, error) {
	m.mu.Lock()
	if m.submitting {
		m.mu.Unlock()
		return exchange.Confirmation{}, services.Wrap(services.ErrValidation, "maker", "submit", "submission already in progress", nil)
	}
	form := Form{Passphrase: m.passphrase, Message: m.message, Captured: m.captured}
	if err := m.validate(form); err != nil {
		m.mu.Unlock()
		return exchange.Confirmation{}, err
	}
	m.submitting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.submitting = false
		m.mu.Unlock()
	}()

	req := exchange.RegisterRequest{
		Passphrase:  form.Passphrase,
		Message:     form.Message,
		Descriptors: form.Captured.Descriptors,
	}
	if m.sendPicture {
		req.Picture = form.Captured.Image
	}

	conf, err := m.client.Register(ctx, req)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "registration failed", "register_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "form kept for retry"),
		)
		m.publish(ctx, notifications.EventError, notifications.Payload{"context": "register", "error": err})
		return exchange.Confirmation{}, err
	}

	m.Reset()
	logging.WithContext(ctx, m.logger).Info("message registered",
		logging.Int("status", conf.StatusCode),
		logging.String(logging.FieldCorrelationID, conf.RequestID),
	)
	m.publish(ctx, notifications.EventMessageRegistered, notifications.Payload{"requestID": conf.RequestID})
	return conf, nil
}

// Reset clears the passphrase, message, captured image and descriptors.
func (m *Maker) Reset() {
	m.mu.Lock()
	m.passphrase = ""
	m.message = ""
	m.captured = nil
	m.mu.Unlock()
	m.loop.Reset()
}

func (m *Maker) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
