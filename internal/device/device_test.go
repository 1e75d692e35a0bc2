package device

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SebastienMelki/causality-push/internal/storage"
)

func newTestPrefs(t *testing.T) *storage.Prefs {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewPrefs(db)
}

func TestDeviceID_PersistsAcrossManagers(t *testing.T) {
	ctx := context.Background()
	prefs := newTestPrefs(t)

	first, err := NewManager(prefs).DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if first == "" {
		t.Fatal("expected a device id")
	}

	second, err := NewManager(prefs).DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if first != second {
		t.Errorf("expected persisted id %q, got %q", first, second)
	}
}

func TestPushRegistrationID(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestPrefs(t))

	if id, err := m.PushRegistrationID(ctx); err != nil || id != "" {
		t.Fatalf("expected no registration, got %q (%v)", id, err)
	}

	if err := m.SetPushRegistrationID(ctx, "R"); err != nil {
		t.Fatalf("SetPushRegistrationID: %v", err)
	}
	if id, _ := m.PushRegistrationID(ctx); id != "R" {
		t.Errorf("expected R, got %q", id)
	}

	if err := m.SetPushRegistrationID(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if id, _ := m.PushRegistrationID(ctx); id != "" {
		t.Errorf("expected cleared registration, got %q", id)
	}
}

func TestInfoDocuments(t *testing.T) {
	m := NewManager(newTestPrefs(t))
	m.SetPlatform(Platform{OS: "android", OSVersion: "14", Model: "Pixel 8"})
	m.SetApp(App{PackageName: "com.example.app", Version: "2.1.0"})

	di, err := m.DeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("DeviceInfo: %v", err)
	}
	if di["platform"] != "android" || di["device_model"] != "Pixel 8" || di["device_id"] == "" {
		t.Errorf("unexpected device info %v", di)
	}
	if _, ok := di["carrier"]; ok {
		t.Error("empty fields should be omitted")
	}

	ai := m.AppInfo()
	if ai["package_name"] != "com.example.app" || ai["app_version"] != "2.1.0" {
		t.Errorf("unexpected app info %v", ai)
	}
}
