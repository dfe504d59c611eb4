package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadenza-coach/cadenza/internal/app"
	"github.com/cadenza-coach/cadenza/internal/coach/mock"
	"github.com/cadenza-coach/cadenza/internal/config"
	"github.com/cadenza-coach/cadenza/internal/store/memstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()

	a, err := app.New(ctx, testConfig(t), config.NewRegistry(),
		app.WithStore(st),
		app.WithGenerator(&mock.Generator{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Manager() == nil {
		t.Fatal("Manager is nil")
	}

	// A session started through the wired manager must land in the store on end.
	id, err := a.Manager().Start(ctx, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Manager().End(ctx, id); err != nil {
		t.Fatalf("End: %v", err)
	}
	rec, err := st.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !rec.Ended {
		t.Fatal("session record not marked ended")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_UnregisteredCoachProvider(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Coach.Provider = "openai"
	cfg.Coach.Model = "gpt-4o"

	_, err := app.New(context.Background(), cfg, config.NewRegistry(), app.WithStore(memstore.New()))
	if !errors.Is(err, config.ErrGeneratorNotRegistered) {
		t.Fatalf("err = %v, want ErrGeneratorNotRegistered", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), config.NewRegistry(), app.WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
