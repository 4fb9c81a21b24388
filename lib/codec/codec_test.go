package codec

import (
	"bytes"
	"testing"
)

func allCodecs() map[string]Codec {
	return map[string]Codec{
		"binary": NewBinary(),
		"json":   NewJSON(),
		"gob":    NewGob(),
	}
}

func TestFullRecordRoundTrip(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			want := FullRecord{
				ID:      [16]byte{1, 2, 3},
				HasID:   true,
				From:    "publisher-1",
				Topic:   "home/kitchen/temp",
				Payload: []byte("21.5C"),
			}
			data, err := c.EncodeFullRecord(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.DecodeFullRecord(data)
			if err != nil {
				t.Fatal(err)
			}
			if got.HasID != want.HasID || got.ID != want.ID || got.From != want.From ||
				got.Topic != want.Topic || !bytes.Equal(got.Payload, want.Payload) {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
			}
		})
	}
}

func TestFullRecordRoundTripNoOptionalFields(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			want := FullRecord{Topic: "t/1"}
			data, err := c.EncodeFullRecord(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.DecodeFullRecord(data)
			if err != nil {
				t.Fatal(err)
			}
			if got.HasID || got.Topic != want.Topic || len(got.Payload) != 0 {
				t.Fatalf("round-trip mismatch: got %+v", got)
			}
		})
	}
}

func TestCompressedRecordRoundTrip(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			want := CompressedRecord{
				HasID:   true,
				ID:      [16]byte{9},
				From:    "device-42",
				Varying: []string{"42", "bar"},
				Payload: []byte("payload"),
			}
			data, err := c.EncodeCompressedRecord(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.DecodeCompressedRecord(data)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Varying) != len(want.Varying) {
				t.Fatalf("varying = %v, want %v", got.Varying, want.Varying)
			}
			for i := range want.Varying {
				if got.Varying[i] != want.Varying[i] {
					t.Fatalf("varying[%d] = %q, want %q", i, got.Varying[i], want.Varying[i])
				}
			}
			if !bytes.Equal(got.Payload, want.Payload) {
				t.Fatalf("payload = %q, want %q", got.Payload, want.Payload)
			}
		})
	}
}

func TestGenerationMetaRoundTrip(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			want := GenerationMeta{
				GenID:        7,
				Since:        1000,
				Until:        2000,
				HasUntil:     true,
				CreatedAt:    999,
				LayoutSchema: "skipstream-lts/v1",
			}
			data, err := c.EncodeGenerationMeta(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.DecodeGenerationMeta(data)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
			}
		})
	}
}

func TestGenerationMetaRoundTripOpenGeneration(t *testing.T) {
	for name, c := range allCodecs() {
		t.Run(name, func(t *testing.T) {
			want := GenerationMeta{GenID: 1, Since: 0, CreatedAt: 5, LayoutSchema: "reference/v1"}
			data, err := c.EncodeGenerationMeta(want)
			if err != nil {
				t.Fatal(err)
			}
			got, err := c.DecodeGenerationMeta(data)
			if err != nil {
				t.Fatal(err)
			}
			if got.HasUntil {
				t.Fatalf("open generation should decode with HasUntil=false, got %+v", got)
			}
		})
	}
}
