package messages

// FileNeeded describes one manifest entry.
type FileNeeded struct {
	Name     string
	Size     int64
	Checksum [32]byte
	// WillSend is false when the server refuses to transfer the file.
	WillSend bool
}

// SaveGameFileID is the transfer id reserved for game-state snapshots.
// Manifest entry i is transferred as id i+1.
const SaveGameFileID = 0

// RequestFile asks for the listed transfer ids.
type RequestFile struct {
	IDs []uint8
}

// FileFragment is one chunk of a transfer.
type FileFragment struct {
	FileID uint8
	Offset uint32
	Total  uint32
	Data   []byte
}

func (RequestFile) Type() PacketType  { return TypeRequestFile }
func (FileFragment) Type() PacketType { return TypeFileFragment }
