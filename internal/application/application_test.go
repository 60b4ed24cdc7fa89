package application

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/config"
	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:             "test",
		Port:            "0",
		StoreDriver:     config.DriverMemory,
		MemoryLayouts:   []model.Layout{{ShowtimeID: 1, AuditoriumID: 1, TotalSeats: 10, SeatsPerRow: 5}},
		JWTSecret:       "k",
		HoldTimeout:     time.Minute,
		SweepInterval:   time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestNewMemoryApp(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	app, err := New(memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if app.consumer != nil || app.publisher != nil {
		t.Fatal("queue wired without AMQP url")
	}

	for path, want := range map[string]int{
		"/healthz":               http.StatusOK,
		"/readyz":                http.StatusOK,
		"/v1/showtimes/1/seats":  http.StatusOK,
		"/v1/showtimes/2/seats":  http.StatusNotFound,
		"/v1/showtimes/1/layout": http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	app, err := New(memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
