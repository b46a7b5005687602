package ledger

import (
	"encoding/binary"
	"fmt"
)

// Instruction is the INS byte of a command APDU
type Instruction byte

const (
	cla byte = 0xE0

	InsGetPublicKey           Instruction = 0x01
	InsSignAccountTransaction Instruction = 0x02
	InsGetVersion             Instruction = 0x03
	InsSignUpdateInstruction  Instruction = 0x04

	// P1 marks the first frame of a command and every frame after it
	P1First        byte = 0x00
	P1Continuation byte = 0x80

	// P2 tells the device whether more frames follow
	P2More byte = 0x00
	P2Last byte = 0x01

	// MaxFrameData is the largest data field a single APDU can carry
	MaxFrameData = 255

	// StatusOK is the status word of a successful response
	StatusOK uint16 = 0x9000
)

func (i Instruction) String() string {
	switch i {
	case InsGetPublicKey:
		return "GetPublicKey"
	case InsSignAccountTransaction:
		return "SignAccountTransaction"
	case InsGetVersion:
		return "GetVersion"
	case InsSignUpdateInstruction:
		return "SignUpdateInstruction"
	default:
		return fmt.Sprintf("Instruction(%#02x)", byte(i))
	}
}

// Command is a single command APDU
type Command struct {
	Ins  Instruction
	P1   byte
	P2   byte
	Data []byte
}

// Encode returns CLA ‖ INS ‖ P1 ‖ P2 ‖ Lc ‖ data
func (c Command) Encode() ([]byte, error) {
	if len(c.Data) > MaxFrameData {
		return nil, fmt.Errorf("apdu data of %d bytes exceeds %d", len(c.Data), MaxFrameData)
	}
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, cla, byte(c.Ins), c.P1, c.P2, byte(len(c.Data)))
	return append(out, c.Data...), nil
}

// DecodeCommand parses a command APDU. It is used by device emulators.
func DecodeCommand(apdu []byte) (Command, error) {
	if len(apdu) < 5 {
		return Command{}, fmt.Errorf("apdu of %d bytes is too short", len(apdu))
	}
	if apdu[0] != cla {
		return Command{}, fmt.Errorf("unexpected class %#02x", apdu[0])
	}
	if int(apdu[4]) != len(apdu)-5 {
		return Command{}, fmt.Errorf("apdu length byte %d does not match %d data bytes", apdu[4], len(apdu)-5)
	}
	return Command{
		Ins:  Instruction(apdu[1]),
		P1:   apdu[2],
		P2:   apdu[3],
		Data: append([]byte(nil), apdu[5:]...),
	}, nil
}

// Response is a response APDU split into data and status word
type Response struct {
	Data   []byte
	Status uint16
}

// DecodeResponse splits data ‖ SW1 ‖ SW2
func DecodeResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("response of %d bytes has no status word", len(raw))
	}
	n := len(raw) - 2
	return Response{
		Data:   append([]byte(nil), raw[:n]...),
		Status: binary.BigEndian.Uint16(raw[n:]),
	}, nil
}

// EncodeResponse is the inverse of DecodeResponse
func EncodeResponse(data []byte, status uint16) []byte {
	out := make([]byte, len(data)+2)
	copy(out, data)
	binary.BigEndian.PutUint16(out[len(data):], status)
	return out
}

// signingFrames splits a signing request into frames. The first frame
// carries the derivation path, the following ones carry the serialized
// transaction in chunks of at most MaxFrameData bytes.
func signingFrames(ins Instruction, path Path, payload []byte) ([]Command, error) {
	encodedPath, err := path.Encode()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("nothing to sign")
	}
	frames := []Command{{Ins: ins, P1: P1First, P2: P2More, Data: encodedPath}}
	for len(payload) > 0 {
		n := len(payload)
		if n > MaxFrameData {
			n = MaxFrameData
		}
		p2 := P2More
		if n == len(payload) {
			p2 = P2Last
		}
		frames = append(frames, Command{Ins: ins, P1: P1Continuation, P2: p2, Data: payload[:n]})
		payload = payload[n:]
	}
	return frames, nil
}
