package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	if got := Encode(On); !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("Encode(On) = %x, want 01", got)
	}
	if got := Encode(Off); !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("Encode(Off) = %x, want 00", got)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Command
		wantErr bool
	}{
		{name: "off", payload: []byte{0x00}, want: Off},
		{name: "on", payload: []byte{0x01}, want: On},
		{name: "empty", payload: nil, wantErr: true},
		{name: "too long", payload: []byte{0x01, 0x00}, wantErr: true},
		{name: "unknown byte", payload: []byte{0x02}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("Decode(%x) error = %v, want ErrInvalidPayload", tt.payload, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%x) error = %v", tt.payload, err)
			}
			if got != tt.want {
				t.Errorf("Decode(%x) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{in: "on", want: On},
		{in: "ON", want: On},
		{in: " 1 ", want: On},
		{in: "true", want: On},
		{in: "off", want: Off},
		{in: "0", want: Off},
		{in: "False", want: Off},
		{in: "toggle", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromBool(t *testing.T) {
	if FromBool(true) != On || FromBool(false) != Off {
		t.Error("FromBool should map true to On and false to Off")
	}
	if !On.Bool() || Off.Bool() {
		t.Error("Bool should invert FromBool")
	}
}

func TestCommandString(t *testing.T) {
	if On.String() != "on" || Off.String() != "off" {
		t.Errorf("String() = %q/%q, want on/off", On.String(), Off.String())
	}
	if got := Command(0x7f).String(); got != "Command(0x7f)" {
		t.Errorf("String() = %q, want Command(0x7f)", got)
	}
}
