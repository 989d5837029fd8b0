package db

import (
	"context"
	"testing"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
)

func testDefinition() *catalog.Definition {
	return &catalog.Definition{
		Devices: []catalog.Device{
			{
				Brand:          "Acme",
				Model:          "Sensor 9",
				ManufacturerID: "0x1234",
				ProductType:    "0x0001",
				ProductID:      "0x00ab",
				FirmwareVersion: catalog.VersionRange{
					Min: "0.0",
					Max: "255.255",
				},
			},
		},
		Upgrades: []catalog.Upgrade{
			{
				Version:   "1.7.0",
				Changelog: "Fixes",
				Channel:   catalog.ChannelStable,
				Files: []catalog.File{
					{Target: 0, URL: "https://example.com/fw/1.7.0.bin", Integrity: "sha256:" + sha256Hex("a")},
				},
			},
		},
	}
}

func sha256Hex(seed string) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i := range out {
		out[i] = hexDigits[(i+len(seed))%16]
	}
	return string(out)
}

func TestMemoryCreateVersionIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.CreateVersion(ctx, "ab12cd34"); err != nil {
		t.Fatalf("db:memory_test - CreateVersion failed: %v", err)
	}
	if err := store.CreateVersion(ctx, "ab12cd34"); err != nil {
		t.Fatalf("db:memory_test - repeated CreateVersion should succeed, got: %v", err)
	}

	versions, err := store.ListVersions(ctx)
	if err != nil {
		t.Fatalf("db:memory_test - ListVersions failed: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("db:memory_test - expected 1 version, got %d", len(versions))
	}
	if versions[0].Active {
		t.Errorf("db:memory_test - freshly created version must not be active")
	}
}

func TestMemoryActiveVersionEmptyWhenNone(t *testing.T) {
	store := NewMemory()
	active, err := store.ActiveVersion(context.Background())
	if err != nil {
		t.Fatalf("db:memory_test - ActiveVersion failed: %v", err)
	}
	if active != "" {
		t.Errorf("db:memory_test - expected empty active version, got %q", active)
	}
}

func TestMemoryEnableUnknownVersionFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.CreateVersion(ctx, "11111111"); err != nil {
		t.Fatalf("db:memory_test - CreateVersion failed: %v", err)
	}
	if err := store.EnableVersion(ctx, "11111111"); err != nil {
		t.Fatalf("db:memory_test - EnableVersion failed: %v", err)
	}

	if err := store.EnableVersion(ctx, "deadbeef"); err == nil {
		t.Fatalf("db:memory_test - enabling an unknown version must fail")
	}

	// The failed enable must leave the previous active version untouched.
	active, err := store.ActiveVersion(ctx)
	if err != nil {
		t.Fatalf("db:memory_test - ActiveVersion failed: %v", err)
	}
	if active != "11111111" {
		t.Errorf("db:memory_test - active version changed after failed enable: %q", active)
	}
}

func TestMemoryCutoverDropsRetiredData(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for _, version := range []string{"aaaa0001", "bbbb0002"} {
		if err := store.CreateVersion(ctx, version); err != nil {
			t.Fatalf("db:memory_test - CreateVersion(%s) failed: %v", version, err)
		}
		if err := store.InsertDefinition(ctx, version, testDefinition()); err != nil {
			t.Fatalf("db:memory_test - InsertDefinition(%s) failed: %v", version, err)
		}
	}

	if err := store.EnableVersion(ctx, "bbbb0002"); err != nil {
		t.Fatalf("db:memory_test - EnableVersion failed: %v", err)
	}

	active, err := store.ActiveVersion(ctx)
	if err != nil {
		t.Fatalf("db:memory_test - ActiveVersion failed: %v", err)
	}
	if active != "bbbb0002" {
		t.Errorf("db:memory_test - expected active bbbb0002, got %q", active)
	}

	versions, err := store.ListVersions(ctx)
	if err != nil {
		t.Fatalf("db:memory_test - ListVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "bbbb0002" {
		t.Errorf("db:memory_test - retired version must be deleted on cutover, got %+v", versions)
	}

	fp := catalog.Fingerprint{
		ManufacturerID:  0x1234,
		ProductType:     0x0001,
		ProductID:       0x00ab,
		FirmwareVersion: "1.0.0",
	}
	matches, err := store.MatchDevices(ctx, "bbbb0002", []catalog.Fingerprint{fp})
	if err != nil {
		t.Fatalf("db:memory_test - MatchDevices failed: %v", err)
	}
	if len(matches[0]) != 1 {
		t.Fatalf("db:memory_test - expected 1 device under active version, got %d", len(matches[0]))
	}

	// Nothing from the retired version survives.
	stale, err := store.MatchDevices(ctx, "aaaa0001", []catalog.Fingerprint{fp})
	if err != nil {
		t.Fatalf("db:memory_test - MatchDevices failed: %v", err)
	}
	if len(stale[0]) != 0 {
		t.Errorf("db:memory_test - retired version still has %d devices", len(stale[0]))
	}
}

func TestMemoryInsertRequiresKnownVersion(t *testing.T) {
	store := NewMemory()
	err := store.InsertDefinition(context.Background(), "deadbeef", testDefinition())
	if err == nil {
		t.Fatalf("db:memory_test - InsertDefinition for unknown version must fail")
	}
}

func TestMemoryMatchDevicesRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	def := testDefinition()
	def.Devices[0].FirmwareVersion = catalog.VersionRange{Min: "1.0", Max: "1.255"}

	if err := store.CreateVersion(ctx, "cafe0001"); err != nil {
		t.Fatalf("db:memory_test - CreateVersion failed: %v", err)
	}
	if err := store.InsertDefinition(ctx, "cafe0001", def); err != nil {
		t.Fatalf("db:memory_test - InsertDefinition failed: %v", err)
	}

	cases := []struct {
		firmware string
		matched  bool
	}{
		{"0.9.0", false},
		{"1.0.0", true},
		{"1.200.55", true},
		{"1.255.255", true},
		{"2.0.0", false},
	}
	for _, tc := range cases {
		fp := catalog.Fingerprint{
			ManufacturerID:  0x1234,
			ProductType:     0x0001,
			ProductID:       0x00ab,
			FirmwareVersion: tc.firmware,
		}
		matches, err := store.MatchDevices(ctx, "cafe0001", []catalog.Fingerprint{fp})
		if err != nil {
			t.Fatalf("db:memory_test - MatchDevices(%s) failed: %v", tc.firmware, err)
		}
		if got := len(matches[0]) > 0; got != tc.matched {
			t.Errorf("db:memory_test - firmware %s: matched=%v, want %v", tc.firmware, got, tc.matched)
		}
	}
}

func TestMemoryUnknownIdentityYieldsNoDevices(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.CreateVersion(ctx, "cafe0002"); err != nil {
		t.Fatalf("db:memory_test - CreateVersion failed: %v", err)
	}
	if err := store.InsertDefinition(ctx, "cafe0002", testDefinition()); err != nil {
		t.Fatalf("db:memory_test - InsertDefinition failed: %v", err)
	}

	fp := catalog.Fingerprint{
		ManufacturerID:  0x9999,
		ProductType:     0x0001,
		ProductID:       0x00ab,
		FirmwareVersion: "1.0.0",
	}
	matches, err := store.MatchDevices(ctx, "cafe0002", []catalog.Fingerprint{fp})
	if err != nil {
		t.Fatalf("db:memory_test - MatchDevices failed: %v", err)
	}
	if len(matches[0]) != 0 {
		t.Errorf("db:memory_test - unknown identity must not match, got %d devices", len(matches[0]))
	}
}

func TestMemoryUpgradesForDevices(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	def := testDefinition()
	def.Upgrades = append(def.Upgrades, catalog.Upgrade{
		Version:   "2.0.0",
		Changelog: "Major",
		Channel:   catalog.ChannelBeta,
		Region:    "europe",
		Condition: "firmwareVersion >= 1.7",
		Files: []catalog.File{
			{Target: 0, URL: "https://example.com/fw/2.0.0.bin", Integrity: "sha256:" + sha256Hex("b")},
			{Target: 1, URL: "https://example.com/fw/2.0.0-t1.bin", Integrity: "sha256:" + sha256Hex("c")},
		},
	})

	if err := store.CreateVersion(ctx, "cafe0003"); err != nil {
		t.Fatalf("db:memory_test - CreateVersion failed: %v", err)
	}
	if err := store.InsertDefinition(ctx, "cafe0003", def); err != nil {
		t.Fatalf("db:memory_test - InsertDefinition failed: %v", err)
	}

	fp := catalog.Fingerprint{
		ManufacturerID:  0x1234,
		ProductType:     0x0001,
		ProductID:       0x00ab,
		FirmwareVersion: "1.0.0",
	}
	matches, err := store.MatchDevices(ctx, "cafe0003", []catalog.Fingerprint{fp})
	if err != nil {
		t.Fatalf("db:memory_test - MatchDevices failed: %v", err)
	}
	if len(matches[0]) != 1 {
		t.Fatalf("db:memory_test - expected 1 device, got %d", len(matches[0]))
	}

	upgrades, err := store.UpgradesForDevices(ctx, []int64{matches[0][0].ID})
	if err != nil {
		t.Fatalf("db:memory_test - UpgradesForDevices failed: %v", err)
	}
	records := upgrades[matches[0][0].ID]
	if len(records) != 2 {
		t.Fatalf("db:memory_test - expected 2 upgrades, got %d", len(records))
	}

	var beta *UpgradeRecord
	for i := range records {
		if records[i].Version == "2.0.0" {
			beta = &records[i]
		}
	}
	if beta == nil {
		t.Fatalf("db:memory_test - upgrade 2.0.0 missing")
	}
	if beta.Channel != catalog.ChannelBeta {
		t.Errorf("db:memory_test - expected beta channel, got %q", beta.Channel)
	}
	if beta.Region != "europe" {
		t.Errorf("db:memory_test - expected region europe, got %q", beta.Region)
	}
	if beta.Condition != "firmwareVersion >= 1.7" {
		t.Errorf("db:memory_test - condition not preserved: %q", beta.Condition)
	}
	if len(beta.Files) != 2 {
		t.Errorf("db:memory_test - expected 2 files, got %d", len(beta.Files))
	}
}
