package internal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Release command",
			command: Command{
				Type:     CommandTRelease,
				Now:      100,
				Key:      "orders:42",
				HolderID: "user-1",
			},
			expected: 1 + 8 + 4 + 4 + 9 + 6, // Type + Now + KeyLen + HolderLen + Key + HolderID
		},
		{
			name: "TryAcquire command with payload",
			command: Command{
				Type:    CommandTTryAcquire,
				Now:     100,
				Payload: []byte("record"),
			},
			expected: 1 + 8 + 4 + 4 + 6,
		},
		{
			name:     "Sweep command",
			command:  Command{Type: CommandTSweep, Now: 100},
			expected: headerSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Release command",
			command: Command{
				Type:     CommandTRelease,
				Now:      1_700_000_000_000_000_000,
				Key:      "orders:42",
				HolderID: "user-1",
			},
		},
		{
			name: "TryAcquire with binary payload",
			command: Command{
				Type:    CommandTTryAcquire,
				Now:     1,
				Payload: []byte{0, 1, 2, 3, 254, 255},
			},
		},
		{
			name: "Sweep without fields",
			command: Command{
				Type: CommandTSweep,
				Now:  42,
			},
		},
		{
			name: "Negative time",
			command: Command{
				Type: CommandTSweep,
				Now:  -1,
			},
		},
		{
			name: "Unicode holder",
			command: Command{
				Type:     CommandTRelease,
				Key:      "a",
				HolderID: "你好世界",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Now != tt.command.Now {
				t.Errorf("Now mismatch: got %v, want %v", newCommand.Now, tt.command.Now)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}
			if newCommand.HolderID != tt.command.HolderID {
				t.Errorf("HolderID mismatch: got %q, want %q", newCommand.HolderID, tt.command.HolderID)
			}
			if !bytes.Equal(newCommand.Payload, tt.command.Payload) {
				t.Errorf("Payload mismatch: got %v, want %v", newCommand.Payload, tt.command.Payload)
			}
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTRelease)
				binary.BigEndian.PutUint32(data[9:13], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000 and holder id of length 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:     CommandTRelease,
		Now:      12345,
		Key:      "lock",
		HolderID: "u1",
		Payload:  []byte("p"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTRelease)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint32(expected[9:13], 4)
	binary.BigEndian.PutUint32(expected[13:17], 2)
	copy(expected[17:21], "lock")
	copy(expected[21:23], "u1")
	copy(expected[23:], "p")

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

func TestFilterRecordConversion(t *testing.T) {
	f := db.Filter{ID: "x", Name: "n", HolderID: "h", Attributes: map[string]string{"userId": "u"}}
	back := RecordToFilter(FilterToRecord(f))
	if back.ID != f.ID || back.Name != f.Name || back.HolderID != f.HolderID || back.Attributes["userId"] != "u" {
		t.Errorf("filter changed during conversion: %+v", back)
	}
}
