package config // package config loads application configuration from environment variables

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// Storage drivers accepted by STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; durations use time.ParseDuration syntax.
type Config struct {
	Env  string // application environment (dev, test, prod)
	Port string // HTTP port to listen on

	StoreDriver   string         // mysql or memory
	DBUser        string         // database username
	DBPass        string         // database password (optional)
	DBHost        string         // database host address
	DBPort        string         // database port number
	DBName        string         // database name
	MemoryLayouts []model.Layout // showtimes known to the memory store

	JWTSecret string // secret used to verify (and mint) JWTs

	HoldTimeout     time.Duration // soft hold lifetime
	SweepInterval   time.Duration // expiry sweeper period
	IntentTimeout   time.Duration // storage budget of one realtime intent
	ShutdownTimeout time.Duration // graceful shutdown budget

	WSWriteWait         time.Duration
	WSPongWait          time.Duration
	WSMaxMessageBytes   int64
	WSMaxSeatsPerIntent int
	WSAllowedOrigins    []string
	RealtimeChannel     string // Redis pub/sub channel for cross-instance broadcasts

	AMQPURL      string // empty disables the RabbitMQ consumer and publisher
	PaymentQueue string // inbound payment.confirmed events
	BookingQueue string // outbound booking.confirmed events
}

// Dev reports whether the process runs in the dev environment.
func (c Config) Dev() bool { return strings.EqualFold(c.Env, "dev") }

// Load reads a .env file when present and then the environment.  Required
// variables are enforced by must(); a missing value ends the program with
// a fatal log message.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:                 must("APP_ENV"),
		Port:                must("APP_PORT"),
		StoreDriver:         strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		JWTSecret:           must("JWT_SECRET"),
		HoldTimeout:         envDur("HOLD_TIMEOUT", 10*time.Minute),
		SweepInterval:       envDur("SWEEP_INTERVAL", 60*time.Second),
		IntentTimeout:       envDur("INTENT_TIMEOUT", 5*time.Second),
		ShutdownTimeout:     envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
		WSWriteWait:         envDur("WS_WRITE_WAIT", 10*time.Second),
		WSPongWait:          envDur("WS_PONG_WAIT", 60*time.Second),
		WSMaxMessageBytes:   int64(envInt("WS_MAX_MESSAGE_BYTES", 4096)),
		WSMaxSeatsPerIntent: envInt("WS_MAX_SEATS_PER_INTENT", 10),
		WSAllowedOrigins:    splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
		RealtimeChannel:     envStr("REALTIME_CHANNEL", "cinema:seat-updates"),
		AMQPURL:             envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		PaymentQueue:        envStr("PAYMENT_QUEUE", "payment.confirmed"),
		BookingQueue:        envStr("BOOKING_QUEUE", "booking.confirmed"),
	}

	switch cfg.StoreDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case DriverMemory:
		layouts, err := ParseLayouts(os.Getenv("MEMORY_LAYOUTS"))
		if err != nil {
			log.Fatalf("invalid MEMORY_LAYOUTS: %v", err)
		}
		cfg.MemoryLayouts = layouts
	default:
		log.Fatalf("unknown STORE_DRIVER: %q", cfg.StoreDriver)
	}
	if cfg.HoldTimeout <= 0 {
		log.Fatalf("HOLD_TIMEOUT must be positive")
	}
	return cfg
}

// LoadDB reads only the database settings.  The migrate command uses it so
// that it does not need the server variables.
func LoadDB() Config {
	_ = godotenv.Load()
	return Config{
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),
	}
}

// ParseLayouts parses "showtime:auditorium:total:perRow" entries separated
// by commas, e.g. "42:1:120:12,43:2:80:10".
func ParseLayouts(s string) ([]model.Layout, error) {
	var out []model.Layout
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("layout %q: want showtime:auditorium:total:perRow", entry)
		}
		nums := make([]int64, 4)
		for i, p := range parts {
			n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("layout %q: %q is not a positive integer", entry, p)
			}
			nums[i] = n
		}
		out = append(out, model.Layout{
			ShowtimeID:   nums[0],
			AuditoriumID: nums[1],
			TotalSeats:   int(nums[2]),
			SeatsPerRow:  int(nums[3]),
		})
	}
	return out, nil
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
