package commsutil

import "testing"

func TestEncodeDecodePayload(t *testing.T) {
	type payload struct {
		Version string `json:"version"`
		Count   int    `json:"count"`
	}

	data, err := EncodePayload(payload{Version: "ab12cd34", Count: 3})
	if err != nil {
		t.Fatalf("commsutil:codec_test - EncodePayload failed: %v", err)
	}
	if want := `{"version":"ab12cd34","count":3}`; string(data) != want {
		t.Errorf("commsutil:codec_test - EncodePayload() = %q, want %q", data, want)
	}

	var got payload
	if err := DecodePayload(data, &got); err != nil {
		t.Fatalf("commsutil:codec_test - DecodePayload failed: %v", err)
	}
	if got.Version != "ab12cd34" || got.Count != 3 {
		t.Errorf("commsutil:codec_test - round trip mismatch: %+v", got)
	}
}

func TestEncodePayloadUnserializable(t *testing.T) {
	if _, err := EncodePayload(make(chan int)); err == nil {
		t.Fatal("commsutil:codec_test - expected error for unserializable value")
	}
}

func TestDecodePayloadInvalid(t *testing.T) {
	var out map[string]string
	if err := DecodePayload([]byte("{not json"), &out); err == nil {
		t.Fatal("commsutil:codec_test - expected error for invalid JSON")
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	var out map[string]string
	if err := DecodePayload(nil, &out); err == nil {
		t.Fatal("commsutil:codec_test - expected error for empty payload")
	}
}
