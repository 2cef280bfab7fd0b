package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTTryAcquire   CommandType = iota // Insert or refresh a lock record.
	CommandTRelease                         // Delete the record of a name held by a holder.
	CommandTReleaseWhere                    // Delete all records matching a filter.
	CommandTSweep                           // Delete all dead records.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTTryAcquire:
		return "TryAcquire"
	case CommandTRelease:
		return "Release"
	case CommandTReleaseWhere:
		return "ReleaseWhere"
	case CommandTSweep:
		return "Sweep"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// headerSize is the fixed part of a serialized command: Type + Now + KeyLen + HolderLen
const headerSize = 1 + 8 + 4 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type     CommandType
	Now      int64  // Proposer's wall clock in unix nanoseconds
	Key      string // Lock name (Release)
	HolderID string // Holder (Release)
	Payload  []byte // Serialized record (TryAcquire) or filter (ReleaseWhere)
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.HolderID) + len(command.Payload)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the proposer time (big endian),
// 4 bytes for key length (big endian),
// 4 bytes for holder id length (big endian),
// N bytes for key data,
// N bytes for holder id data,
// N bytes for payload data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.Now))
	binary.BigEndian.PutUint32(result[9:13], uint32(len(command.Key)))
	binary.BigEndian.PutUint32(result[13:17], uint32(len(command.HolderID)))

	pos := headerSize
	pos += copy(result[pos:], command.Key)
	pos += copy(result[pos:], command.HolderID)
	copy(result[pos:], command.Payload)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Now = int64(binary.BigEndian.Uint64(data[1:9]))
	keyLen := int(binary.BigEndian.Uint32(data[9:13]))
	holderLen := int(binary.BigEndian.Uint32(data[13:17]))

	if len(data) < headerSize+keyLen+holderLen {
		return fmt.Errorf("data too short for key of length %d and holder id of length %d", keyLen, holderLen)
	}

	pos := headerSize
	command.Key = string(data[pos : pos+keyLen])
	pos += keyLen
	command.HolderID = string(data[pos : pos+holderLen])
	pos += holderLen

	if pos < len(data) {
		command.Payload = make([]byte, len(data)-pos)
		copy(command.Payload, data[pos:])
	} else {
		command.Payload = nil
	}

	return nil
}
