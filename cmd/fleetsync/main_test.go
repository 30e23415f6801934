package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetsync-core/internal/discovery"
	"github.com/nerrad567/fleetsync-core/internal/hardware"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetsync-core/migrations"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("FLEETSYNC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when the database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("FLEETSYNC_CONFIG", writeConfig(t, `
site:
  id: test-site
database:
  path: ""
mqtt:
  enabled: false
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_StartupAndShutdown runs the full startup path with every optional
// backend disabled and shuts down when the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("FLEETSYNC_CONFIG", writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
metrics:
  enabled: false
logging:
  level: error
  format: text
sync:
  interval: 0
discovery:
  interval: 0
`))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("FLEETSYNC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("FLEETSYNC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][]byte)
	}
	p.messages[topic] = payload
	return nil
}

func (p *recordingPublisher) get(topic string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.messages[topic]
	return b, ok
}

// fakeVendor serves the default REST adapter paths.
type fakeVendor struct {
	mu        sync.Mutex
	discovery []string
}

func (v *fakeVendor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v1/devices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"devices": [
			{"id": "rx-1", "serial": "abc123", "ip": "10.0.0.5", "role": "receiver", "model": "R4"},
			{"id": "rx-2", "ip": "10.0.0.6", "model": "R4"}
		]}`))
	})
	mux.HandleFunc("GET /api/v1/discovery", func(w http.ResponseWriter, _ *http.Request) {
		v.mu.Lock()
		defer v.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ips": append([]string{}, v.discovery...)})
	})
	mux.HandleFunc("POST /api/v1/discovery", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IP string `json:"ip"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		v.mu.Lock()
		v.discovery = append(v.discovery, body.IP)
		v.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func (v *fakeVendor) ips() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.discovery...)
}

// TestBuild_EndToEnd wires the service against an in-memory database and a
// fake REST vendor, then runs both tasks inline.
func TestBuild_EndToEnd(t *testing.T) {
	ctx := context.Background()
	vendorAPI := &fakeVendor{}
	srv := httptest.NewServer(vendorAPI.handler())
	defer srv.Close()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close()
	if err := db.MigrateFrom(ctx, migrations.FS(), "."); err != nil {
		t.Fatalf("MigrateFrom() error = %v", err)
	}

	cfg := &config.Config{
		Sync:      config.SyncConfig{Parallelism: 1, TransitionRetries: 1},
		Discovery: config.DiscoveryConfig{BatchSize: 10, MaxHosts: 16},
		Manufacturers: []config.ManufacturerConfig{{
			Code:   "acme",
			Active: true,
			Adapter: config.AdapterConfig{
				Kind:    "rest",
				BaseURL: srv.URL,
				Timeout: 5,
			},
			Capabilities: map[string]config.CapabilityConfig{"R4": {Capacity: 4}},
		}, {
			Code:    "bravo",
			Active:  true,
			Adapter: config.AdapterConfig{Kind: "soap"},
		}},
	}

	pub := &recordingPublisher{}
	var logs bytes.Buffer
	log := logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "test", &logs)

	a, err := build(cfg, db.DB, pub, nil, metrics.New(), log)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	if a.machine == nil || a.orchestrator.Machine() != a.machine {
		t.Error("orchestrator does not use the shared lifecycle machine")
	}

	if err := a.scheduler.RunNow(ctx, taskFleetSync); err != nil {
		t.Fatalf("fleet sync error = %v", err)
	}

	records, err := hardware.NewSQLiteRepository(db.DB).ListByManufacturer(ctx, "acme")
	if err != nil {
		t.Fatalf("ListByManufacturer() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Status != hardware.StatusOnline {
			t.Errorf("record %s status = %s, want online", rec.VendorID, rec.Status)
		}
		if rec.Capacity != 4 {
			t.Errorf("record %s capacity = %d, want 4", rec.VendorID, rec.Capacity)
		}
	}

	raw, ok := pub.get(mqtt.Topics{}.SyncSummary())
	if !ok {
		t.Fatal("sync summary not published")
	}
	var summary struct {
		Total struct {
			Created int `json:"created"`
			Errored int `json:"errored"`
		} `json:"total"`
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Total.Created != 2 || summary.Total.Errored != 1 {
		t.Errorf("summary totals = %+v, want created 2, errored 1 (bravo has no adapter)", summary.Total)
	}

	// bravo has no adapter so only acme takes part in discovery.
	if err := a.scheduler.RunNow(ctx, taskDiscovery); err != nil {
		t.Fatalf("discovery error = %v", err)
	}
	if got := vendorAPI.ips(); len(got) != 2 {
		t.Errorf("vendor discovery list = %v, want both inventory IPs", got)
	}

	jobs, err := a.tracker.List(ctx)
	if err != nil {
		t.Fatalf("tracker.List() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != discovery.StatusSuccess {
		t.Fatalf("jobs = %+v, want one successful job", jobs)
	}
	if _, ok := pub.get(mqtt.Topics{}.JobProgress(jobs[0].ID)); !ok {
		t.Error("job progress not published")
	}

	a.close(log)
}

func TestCancelHandler(t *testing.T) {
	tracker := discovery.NewTracker(nil)
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", &bytes.Buffer{})
	handle := cancelHandler(tracker, log)

	if err := handle("fleetsync/core/job/unknown/cancel", nil); err == nil {
		t.Error("cancel of unknown job should fail")
	}
	if err := handle("fleetsync/core/something/else", nil); err != nil {
		t.Errorf("unrelated topic error = %v", err)
	}
}

func TestDiscoverySources(t *testing.T) {
	off := false
	cfg := &config.Config{
		Discovery: config.DiscoveryConfig{MaxHosts: 64},
		Manufacturers: []config.ManufacturerConfig{
			{Code: "acme", Active: true, Discovery: config.ManufacturerDiscoveryConfig{CIDRs: []string{"10.0.0.0/24"}}},
			{Code: "bravo", Active: true, Discovery: config.ManufacturerDiscoveryConfig{IncludeInventory: &off, MaxHosts: 8}},
			{Code: "charlie", Active: false},
		},
	}

	sources := discoverySources(cfg)
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
	if s := sources["acme"]; !s.IncludeInventory || s.MaxHosts != 64 || len(s.CIDRs) != 1 {
		t.Errorf("acme = %+v", s)
	}
	if s := sources["bravo"]; s.IncludeInventory || s.MaxHosts != 8 {
		t.Errorf("bravo = %+v", s)
	}
}
