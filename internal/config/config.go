package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DataFile            string
	RateLimitPerMinute  int
	RateLimitBurst      int
	PhoneLimitPerMinute int
	PhoneLimitBurst     int
	NoShowGrace         time.Duration
	NoShowInterval      time.Duration
	NoShowBatchSize     int
	DailySummaryCron    string
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	dataFile := os.Getenv("TOKEN_DATA_FILE")
	if dataFile == "" {
		dataFile = "data/token_bookings.json"
	}
	summaryCron := os.Getenv("DAILY_SUMMARY_CRON")
	if summaryCron == "" {
		summaryCron = "0 20 * * *"
	}

	return Config{
		Port:                port,
		DataFile:            dataFile,
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:      readInt("RATE_LIMIT_BURST", 30),
		PhoneLimitPerMinute: readInt("PHONE_RATE_LIMIT_PER_MIN", 20),
		PhoneLimitBurst:     readInt("PHONE_RATE_LIMIT_BURST", 5),
		NoShowGrace:         readDurationSeconds("NO_SHOW_GRACE_SECONDS", 3600),
		NoShowInterval:      readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", 300),
		NoShowBatchSize:     readInt("NO_SHOW_BATCH_SIZE", 100),
		DailySummaryCron:    summaryCron,
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
