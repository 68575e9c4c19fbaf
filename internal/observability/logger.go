package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// SetLevel adjusts the global log level from a config string.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithTransfer adds transfer context to logger.
func (l *Logger) WithTransfer(senderID, receiverID, fileID string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("sender_id", senderID).
			Str("receiver_id", receiverID).
			Str("file_id", fileID).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// SessionRegistered logs a session joining the roster.
func (l *Logger) SessionRegistered(sessionID, deviceName, displayName string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("device_name", deviceName).
		Str("display_name", displayName).
		Msg("session registered")
}

// SessionClosed logs a session leaving, with the reason.
func (l *Logger) SessionClosed(sessionID, reason string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("session closed")
}

// SessionEvicted logs a liveness eviction.
func (l *Logger) SessionEvicted(sessionID string, idle time.Duration) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Float64("idle_seconds", idle.Seconds()).
		Msg("session evicted by liveness sweep")
}

// EnvelopeDropped logs a codec-level soft failure.
func (l *Logger) EnvelopeDropped(sessionID string, size int, err error) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Int("size_bytes", size).
		Err(err).
		Msg("inbound envelope dropped")
}

// ChunkRelayed logs a forwarded chunk.
func (l *Logger) ChunkRelayed(senderID, receiverID, fileID string, chunkIndex int64, progress float64) {
	l.logger.Debug().
		Str("sender_id", senderID).
		Str("receiver_id", receiverID).
		Str("file_id", fileID).
		Int64("chunk_index", chunkIndex).
		Float64("receiver_progress", progress).
		Msg("chunk relayed")
}

// DuplicateChunk logs an absorbed duplicate.
func (l *Logger) DuplicateChunk(senderID, fileID string, chunkIndex, duplicates int64) {
	l.logger.Debug().
		Str("sender_id", senderID).
		Str("file_id", fileID).
		Int64("chunk_index", chunkIndex).
		Int64("duplicates_total", duplicates).
		Msg("duplicate chunk absorbed")
}

// TransferCreated logs a new transfer entering the table.
func (l *Logger) TransferCreated(senderID, receiverID, fileID, fileName string, totalChunks int64) {
	l.logger.Info().
		Str("sender_id", senderID).
		Str("receiver_id", receiverID).
		Str("file_id", fileID).
		Str("file_name", fileName).
		Int64("total_chunks", totalChunks).
		Msg("transfer created")
}

// TransferEnded logs a transfer leaving the table.
func (l *Logger) TransferEnded(senderID, receiverID, fileID, state, reason string) {
	l.logger.Info().
		Str("sender_id", senderID).
		Str("receiver_id", receiverID).
		Str("file_id", fileID).
		Str("state", state).
		Str("reason", reason).
		Msg("transfer ended")
}

// RosterBroadcast logs a roster fan-out.
func (l *Logger) RosterBroadcast(sessions int) {
	l.logger.Debug().
		Int("sessions", sessions).
		Msg("roster broadcast")
}

// SendTimeout logs an undelivered outbound envelope.
func (l *Logger) SendTimeout(sessionID, msgType string, err error) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Str("msg_type", msgType).
		Err(err).
		Msg("outbound send failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
