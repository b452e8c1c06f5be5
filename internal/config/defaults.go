package config

const (
	defaultConfigPath          = "~/.config/miyu/config.toml"
	defaultLogDir              = "~/.local/share/miyu/logs"
	defaultLockDir             = "~/.local/share/miyu/locks"
	defaultBackendBaseURL      = "http://localhost:8000"
	defaultBackendTimeout      = 15
	defaultUserAgent           = "miyu/0.1.0"
	defaultMinPassphraseLength = 4
	defaultDebounceMillis      = 1000
	defaultGetIntervalMillis   = 1000
	defaultMakeIntervalMillis  = 500
	defaultFFmpegBinary        = "ffmpeg"
	defaultInputFormat         = "mjpeg"
	defaultCaptureWidth        = 640
	defaultCaptureHeight       = 480
	defaultFrameRate           = 10
	defaultStaleFrameMillis    = 2000
	defaultExtractorBackend    = ExtractorWorker
	defaultExtractorCommand    = "python3"
	defaultExtractorScript     = "python/orb_worker.py"
	defaultMaxFeatures         = 500
	defaultExtractorTimeout    = 10
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Extractor backends.
const (
	ExtractorWorker = "worker"
	ExtractorGoCV   = "gocv"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			LockDir: defaultLockDir,
		},
		Backend: Backend{
			BaseURL:        defaultBackendBaseURL,
			TimeoutSeconds: defaultBackendTimeout,
			UserAgent:      defaultUserAgent,
		},
		Session: Session{
			MinPassphraseLength: defaultMinPassphraseLength,
			DebounceMillis:      defaultDebounceMillis,
			GetIntervalMillis:   defaultGetIntervalMillis,
			MakeIntervalMillis:  defaultMakeIntervalMillis,
		},
		Capture: Capture{
			FFmpegBinary:    defaultFFmpegBinary,
			InputFormat:     defaultInputFormat,
			Width:           defaultCaptureWidth,
			Height:          defaultCaptureHeight,
			FrameRate:       defaultFrameRate,
			StaleFrameMilli: defaultStaleFrameMillis,
		},
		Extractor: Extractor{
			Backend:        defaultExtractorBackend,
			Command:        defaultExtractorCommand,
			Args:           []string{"-u", defaultExtractorScript},
			MaxFeatures:    defaultMaxFeatures,
			TimeoutSeconds: defaultExtractorTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Bell:           true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
