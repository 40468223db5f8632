package driver

import (
	"testing"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/event"
)

func TestDecodeScan(t *testing.T) {
	tests := []struct {
		name   string
		code   byte
		action keyAction
		key    uint16
	}{
		{"a umlaut", 0x1E, actionPress, event.KeyQ},
		{"o umlaut", 0x1F, actionPress, event.KeyP},
		{"u umlaut", 0x20, actionPress, event.KeyY},
		{"eszett", 0x21, actionPress, event.KeyS},
		{"all released", 0x00, actionReleaseAll, 0},
		{"just below the window", 0x1D, actionNone, 0},
		{"just above the window", 0x22, actionNone, 0},
		{"unrelated code", 0xFF, actionNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, key := decodeScan(tt.code)
			if action != tt.action {
				t.Errorf("decodeScan(%#x) action = %v, want %v", tt.code, action, tt.action)
			}
			if key != tt.key {
				t.Errorf("decodeScan(%#x) key = %v, want %v", tt.code, key, tt.key)
			}
		})
	}
}

// The decode is a pure function of the scan code: no hidden state may leak
// between invocations.
func TestDecodeScanIsPure(t *testing.T) {
	for b := 0; b < 256; b++ {
		a1, k1 := decodeScan(byte(b))
		a2, k2 := decodeScan(byte(b))
		if a1 != a2 || k1 != k2 {
			t.Fatalf("decodeScan(%#x) is not stable: (%v, %v) then (%v, %v)", b, a1, k1, a2, k2)
		}
	}
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	want := []uint16{event.KeyRightAlt, event.KeyQ, event.KeyP, event.KeyY, event.KeyS}

	if len(caps) != len(want) {
		t.Fatalf("got %d capabilities, want %d", len(caps), len(want))
	}
	for i, kc := range want {
		if caps[i] != kc {
			t.Errorf("capability %d = %v, want %v", i, caps[i], kc)
		}
	}
}
