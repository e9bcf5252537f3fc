package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "WAIT_TIMER_SECONDS", "BOARDED_GRACE_SECONDS",
		"STOP_RADIUS_METERS", "GPS_DEBOUNCE_SECONDS", "KAFKA_TOPIC", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.WaitTimerSeconds != 180 {
		t.Errorf("WaitTimerSeconds = %d", cfg.WaitTimerSeconds)
	}
	if cfg.BoardedGraceSeconds != 30 {
		t.Errorf("BoardedGraceSeconds = %d", cfg.BoardedGraceSeconds)
	}
	if cfg.StopRadiusMeters != 50 {
		t.Errorf("StopRadiusMeters = %v", cfg.StopRadiusMeters)
	}
	if cfg.GPSDebounceSeconds != 5 {
		t.Errorf("GPSDebounceSeconds = %d", cfg.GPSDebounceSeconds)
	}
	if cfg.KafkaTopic != "driver-locations" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("WAIT_TIMER_SECONDS", "60")
	t.Setenv("BOARDED_GRACE_SECONDS", "10")
	t.Setenv("STOP_RADIUS_METERS", "75.5")
	t.Setenv("GPS_DEBOUNCE_SECONDS", "0")
	t.Setenv("KAFKA_BROKERS", "one:9092, two:9092 ,")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.WaitTimerSeconds != 60 || cfg.BoardedGraceSeconds != 10 {
		t.Errorf("timers = %d/%d", cfg.WaitTimerSeconds, cfg.BoardedGraceSeconds)
	}
	if cfg.StopRadiusMeters != 75.5 {
		t.Errorf("StopRadiusMeters = %v", cfg.StopRadiusMeters)
	}
	if cfg.GPSDebounceSeconds != 0 {
		t.Errorf("GPSDebounceSeconds = %d", cfg.GPSDebounceSeconds)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "one:9092" || cfg.KafkaBrokers[1] != "two:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %s", cfg.ReadTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("WAIT_TIMER_SECONDS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("no error for unparseable WAIT_TIMER_SECONDS")
	}

	t.Setenv("WAIT_TIMER_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("no error for zero wait timer")
	}

	t.Setenv("WAIT_TIMER_SECONDS", "180")
	t.Setenv("GPS_DEBOUNCE_SECONDS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("no error for negative debounce")
	}
}
