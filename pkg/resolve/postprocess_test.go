package resolve

import (
	"testing"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
)

func sampleUpdates() []Update {
	files := []catalog.File{{Target: 0, URL: "https://example.com/fw.bin", Integrity: "sha256:" + hex64("f")}}
	return []Update{
		{Version: "1.5", Changelog: "old stable", Channel: catalog.ChannelStable, Files: files},
		{Version: "2.0.0", Changelog: "new stable", Channel: catalog.ChannelStable, Files: files},
		{Version: "2.5.0", Changelog: "beta", Channel: catalog.ChannelBeta, Files: files},
		{Version: "2.0.0", Changelog: "new stable (EU)", Channel: catalog.ChannelStable, Region: "europe", Files: files},
	}
}

func hex64(seed string) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i := range out {
		out[i] = hexDigits[(i+len(seed))%16]
	}
	return string(out)
}

func TestPostprocessV1StableRegionlessOnly(t *testing.T) {
	got := Postprocess(sampleUpdates(), "1.7.0", GenV1, "")
	if len(got) != 2 {
		t.Fatalf("resolve:postprocess_test - expected 2 updates, got %d", len(got))
	}
	for _, u := range got {
		if u.Channel != "" {
			t.Errorf("resolve:postprocess_test - v1 must not expose channel, got %q", u.Channel)
		}
		if u.Region != "" {
			t.Errorf("resolve:postprocess_test - v1 must not expose region, got %q", u.Region)
		}
	}
	if got[0].Version != "1.5" || !got[0].Downgrade {
		t.Errorf("resolve:postprocess_test - 1.5 must be a downgrade from 1.7.0: %+v", got[0])
	}
	if got[1].Version != "2.0.0" || got[1].Downgrade {
		t.Errorf("resolve:postprocess_test - 2.0.0 must not be a downgrade: %+v", got[1])
	}
	if got[0].NormalizedVersion != "1.5.0" {
		t.Errorf("resolve:postprocess_test - expected normalized 1.5.0, got %q", got[0].NormalizedVersion)
	}
}

func TestPostprocessV2BetaSuffix(t *testing.T) {
	got := Postprocess(sampleUpdates(), "1.7.0", GenV2, "")
	if len(got) != 3 {
		t.Fatalf("resolve:postprocess_test - expected 3 updates, got %d", len(got))
	}
	var beta *Update
	for i := range got {
		if got[i].Channel == catalog.ChannelBeta {
			beta = &got[i]
		}
	}
	if beta == nil {
		t.Fatalf("resolve:postprocess_test - beta update missing in v2")
	}
	if beta.NormalizedVersion != "2.5.0-beta" {
		t.Errorf("resolve:postprocess_test - expected 2.5.0-beta, got %q", beta.NormalizedVersion)
	}
}

func TestPostprocessV3RegionRules(t *testing.T) {
	// Without a region only region-less updates remain.
	got := Postprocess(sampleUpdates(), "1.7.0", GenV3, "")
	for _, u := range got {
		if u.Region != "" {
			t.Errorf("resolve:postprocess_test - region-less request must not see %q", u.Region)
		}
	}

	// With a region, the region-specific update wins its version slot.
	got = Postprocess(sampleUpdates(), "1.7.0", GenV3, "europe")
	versions := map[string]Update{}
	for _, u := range got {
		if prev, dup := versions[u.Version]; dup {
			t.Fatalf("resolve:postprocess_test - duplicate version %s (%+v / %+v)", u.Version, prev, u)
		}
		versions[u.Version] = u
	}
	if u, ok := versions["2.0.0"]; !ok || u.Region != "europe" {
		t.Errorf("resolve:postprocess_test - region-specific 2.0.0 must win the tie, got %+v", u)
	}
}

func TestPostprocessV3SortAscending(t *testing.T) {
	got := Postprocess(sampleUpdates(), "1.7.0", GenV3, "europe")
	for i := 1; i < len(got); i++ {
		if compareNormalized(got[i-1].NormalizedVersion, got[i].NormalizedVersion) > 0 {
			t.Errorf("resolve:postprocess_test - not sorted ascending: %q before %q",
				got[i-1].NormalizedVersion, got[i].NormalizedVersion)
		}
	}
}

func TestPostprocessDropsCurrentVersion(t *testing.T) {
	// "2.0" and "2.0.0" denote the same version.
	got := Postprocess(sampleUpdates(), "2.0", GenV2, "")
	for _, u := range got {
		if u.Version == "2.0.0" {
			t.Errorf("resolve:postprocess_test - current version must be dropped")
		}
	}
}

func TestPostprocessBetaSortsBeforeRelease(t *testing.T) {
	files := []catalog.File{{Target: 0, URL: "https://example.com/fw.bin", Integrity: "sha256:" + hex64("f")}}
	updates := []Update{
		{Version: "3.0.0", Changelog: "stable", Channel: catalog.ChannelStable, Files: files},
		{Version: "3.0.0", Changelog: "beta", Channel: catalog.ChannelBeta, Files: files},
	}
	got := Postprocess(updates, "1.0.0", GenV3, "")
	// Same version string, so dedup keeps exactly one entry, the one that
	// sorts first: the beta prerelease.
	if len(got) != 1 {
		t.Fatalf("resolve:postprocess_test - expected 1 update after dedup, got %d", len(got))
	}
	if got[0].NormalizedVersion != "3.0.0-beta" {
		t.Errorf("resolve:postprocess_test - prerelease must sort first, got %q", got[0].NormalizedVersion)
	}
}
