package config

import (
	"time"

	"github.com/joho/godotenv"
)

type ClientConfig struct {
	ServerURL      string
	Token          string
	NoteID         string
	DBPath         string
	LogFile        string
	ReconnectDelay time.Duration
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	TypingIdle           time.Duration
	PresenceTTL          time.Duration
	// Liveness is how long the channel may go without any frame, pings included.
	Liveness time.Duration
}

func LoadClient() (*ClientConfig, error) {
	godotenv.Load()

	reconnectDelay, err := getEnvAsDuration("NOTEPAD_RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return nil, err
	}
	typingIdle, err := getEnvAsDuration("NOTEPAD_TYPING_IDLE", time.Second)
	if err != nil {
		return nil, err
	}
	presenceTTL, err := getEnvAsDuration("NOTEPAD_PRESENCE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	liveness, err := getEnvAsDuration("NOTEPAD_LIVENESS", 75*time.Second)
	if err != nil {
		return nil, err
	}

	return &ClientConfig{
		ServerURL:            getEnv("NOTEPAD_SERVER", "http://localhost:8080"),
		Token:                getEnv("NOTEPAD_TOKEN", ""),
		NoteID:               getEnv("NOTEPAD_NOTE_ID", "shared"),
		DBPath:               getEnv("NOTEPAD_DB", "notepad.db"),
		LogFile:              getEnv("NOTEPAD_LOG_FILE", "notepad.log"),
		ReconnectDelay:       reconnectDelay,
		MaxReconnectAttempts: getEnvAsInt("NOTEPAD_RECONNECT_MAX_ATTEMPTS", 0),
		TypingIdle:           typingIdle,
		PresenceTTL:          presenceTTL,
		Liveness:             liveness,
	}, nil
}
