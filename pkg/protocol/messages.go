package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// Protocol version spoken by this library. Peers must agree on the major
// version; the effective minor version of a session is the lower of the
// two sides.
const (
	ProtocolMajorVersion uint16 = 1
	ProtocolMinorVersion uint16 = 8
)

// DefaultPort is the TCP port the protocol family listens on when an
// address does not name one.
const DefaultPort = 24800

// Handshake codes. The two Hello codes are 7 bytes; everything else is 4.
const (
	CodeHelloBarrier = "Barrier"
	CodeHelloSynergy = "Synergy"
)

// Command codes (C-prefixed)
const (
	CodeNoOp              = "CNOP"
	CodeClose             = "CBYE"
	CodeCursorEntered     = "CINN"
	CodeCursorLeft        = "COUT"
	CodeClientClipboard   = "CCLP"
	CodeScreenSaverChange = "CSEC"
	CodeResetOptions      = "CROP"
	CodeInfoAck           = "CIAK"
	CodeKeepAlive         = "CALV"
)

// Data codes (D-prefixed)
const (
	CodeKeyDownLang       = "DKDL"
	CodeKeyDown           = "DKDN"
	CodeKeyRepeat         = "DKRP"
	CodeKeyUp             = "DKUP"
	CodeMouseButtonDown   = "DMDN"
	CodeMouseButtonUp     = "DMUP"
	CodeMouseMove         = "DMMV"
	CodeMouseRelativeMove = "DMRM"
	CodeMouseWheel        = "DMWM"
	CodeClipboardData     = "DCLP"
	CodeClientInfo        = "DINF"
	CodeSetOptions        = "DSOP"
	CodeFileTransfer      = "DFTR"
	CodeDragInfo          = "DDRG"
	CodeSecureInput       = "SECN"
	CodeLanguageSync      = "LSYN"
)

// Query and error codes
const (
	CodeQueryInfo           = "QINF"
	CodeIncompatibleVersion = "EICV"
	CodeServerBusy          = "EBSY"
	CodeUnknownClient       = "EUNK"
	CodeProtocolViolation   = "EBAD"
)

// Streaming marks used by ClipboardData and FileTransfer payloads.
const (
	StreamSingle uint8 = 0 // complete payload in one message (clipboard only)
	StreamStart  uint8 = 1
	StreamMiddle uint8 = 2
	StreamEnd    uint8 = 3
)

// Message is a single protocol message. Encode returns the wire payload
// starting with the code bytes; the frame length prefix is added by the
// frame layer.
type Message interface {
	Code() string
	Encode() []byte
}

// decoders maps each wire code, including the two 7-byte Hello codes, to
// the decode function for its variant. Adding a message type is one entry
// here plus the struct below.
var decoders = map[string]func([]byte) (Message, error){
	CodeHelloBarrier:        decodeHelloBarrier,
	CodeHelloSynergy:        decodeHelloSynergy,
	CodeNoOp:                decodeNoOp,
	CodeClose:               decodeClose,
	CodeCursorEntered:       decodeCursorEntered,
	CodeCursorLeft:          decodeCursorLeft,
	CodeClientClipboard:     decodeClientClipboard,
	CodeScreenSaverChange:   decodeScreenSaverChange,
	CodeResetOptions:        decodeResetOptions,
	CodeInfoAck:             decodeInfoAck,
	CodeKeepAlive:           decodeKeepAlive,
	CodeKeyDownLang:         decodeKeyDownLang,
	CodeKeyDown:             decodeKeyDown,
	CodeKeyRepeat:           decodeKeyRepeat,
	CodeKeyUp:               decodeKeyUp,
	CodeMouseButtonDown:     decodeMouseButtonDown,
	CodeMouseButtonUp:       decodeMouseButtonUp,
	CodeMouseMove:           decodeMouseMove,
	CodeMouseRelativeMove:   decodeMouseRelativeMove,
	CodeMouseWheel:          decodeMouseWheel,
	CodeClipboardData:       decodeClipboardData,
	CodeClientInfo:          decodeClientInfo,
	CodeSetOptions:          decodeSetOptions,
	CodeFileTransfer:        decodeFileTransfer,
	CodeDragInfo:            decodeDragInfo,
	CodeSecureInput:         decodeSecureInput,
	CodeLanguageSync:        decodeLanguageSync,
	CodeQueryInfo:           decodeQueryInfo,
	CodeIncompatibleVersion: decodeIncompatibleVersion,
	CodeServerBusy:          decodeServerBusy,
	CodeUnknownClient:       decodeUnknownClient,
	CodeProtocolViolation:   decodeProtocolViolation,
}

// DecodeMessage parses one frame payload into its message variant. The
// payload must start at the code bytes; the frame length prefix has
// already been stripped by the caller.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 4 {
		return nil, &InsufficientDataError{Expected: 4, Actual: len(data)}
	}
	if !utf8.Valid(data[:4]) {
		return nil, ErrInvalidMessageCode
	}
	if decode, ok := decoders[string(data[:4])]; ok {
		return decode(data)
	}
	if len(data) >= 7 {
		if decode, ok := decoders[string(data[:7])]; ok {
			return decode(data)
		}
	}
	return nil, &UnknownCodeError{Code: string(data[:4])}
}

// HelloBarrier ("Barrier") - handshake hello in the Barrier dialect. The
// server's greeting carries only the version; the client's reply appends
// its screen name. Which form this is follows from Name being set, exactly
// as the wire distinguishes the two by payload length alone.
type HelloBarrier struct {
	Major uint16
	Minor uint16
	Name  *string
}

func (*HelloBarrier) Code() string { return CodeHelloBarrier }

func (m *HelloBarrier) Encode() []byte {
	return encodeHello(CodeHelloBarrier, m.Major, m.Minor, m.Name)
}

func decodeHelloBarrier(data []byte) (Message, error) {
	major, minor, name, err := decodeHelloFields(data, len(CodeHelloBarrier))
	if err != nil {
		return nil, err
	}
	return &HelloBarrier{Major: major, Minor: minor, Name: name}, nil
}

// HelloSynergy ("Synergy") - handshake hello in the legacy dialect.
// Identical layout to HelloBarrier apart from the code.
type HelloSynergy struct {
	Major uint16
	Minor uint16
	Name  *string
}

func (*HelloSynergy) Code() string { return CodeHelloSynergy }

func (m *HelloSynergy) Encode() []byte {
	return encodeHello(CodeHelloSynergy, m.Major, m.Minor, m.Name)
}

func decodeHelloSynergy(data []byte) (Message, error) {
	major, minor, name, err := decodeHelloFields(data, len(CodeHelloSynergy))
	if err != nil {
		return nil, err
	}
	return &HelloSynergy{Major: major, Minor: minor, Name: name}, nil
}

func encodeHello(code string, major, minor uint16, name *string) []byte {
	b := make([]byte, 0, len(code)+4)
	b = append(b, code...)
	b = binary.BigEndian.AppendUint16(b, major)
	b = binary.BigEndian.AppendUint16(b, minor)
	if name != nil {
		b = appendString(b, *name)
	}
	return b
}

func decodeHelloFields(data []byte, codeLen int) (major, minor uint16, name *string, err error) {
	major, err = readU16(data, codeLen)
	if err != nil {
		return 0, 0, nil, err
	}
	minor, err = readU16(data, codeLen+2)
	if err != nil {
		return 0, 0, nil, err
	}
	// A reply hello carries the client name after the version; the
	// greeting form ends there. Leftover bytes are the only signal.
	if len(data) > codeLen+4 {
		s, _, serr := readString(data, codeLen+4)
		if serr != nil {
			return 0, 0, nil, serr
		}
		name = &s
	}
	return major, minor, name, nil
}

// NoOp ("CNOP") - no operation
type NoOp struct{}

func (*NoOp) Code() string { return CodeNoOp }

func (m *NoOp) Encode() []byte { return []byte(CodeNoOp) }

func decodeNoOp([]byte) (Message, error) { return &NoOp{}, nil }

// Close ("CBYE") - server is closing the connection
type Close struct{}

func (*Close) Code() string { return CodeClose }

func (m *Close) Encode() []byte { return []byte(CodeClose) }

func decodeClose([]byte) (Message, error) { return &Close{}, nil }

// CursorEntered ("CINN") - the cursor entered this screen. Sequence tags
// the entry; clipboard traffic for this leg must echo it.
type CursorEntered struct {
	X        int16
	Y        int16
	Sequence uint32
	Mask     uint16 // active toggle-key modifiers at entry
}

func (*CursorEntered) Code() string { return CodeCursorEntered }

func (m *CursorEntered) Encode() []byte {
	b := make([]byte, 0, len(CodeCursorEntered)+10)
	b = append(b, CodeCursorEntered...)
	b = binary.BigEndian.AppendUint16(b, uint16(m.X))
	b = binary.BigEndian.AppendUint16(b, uint16(m.Y))
	b = binary.BigEndian.AppendUint32(b, m.Sequence)
	b = binary.BigEndian.AppendUint16(b, m.Mask)
	return b
}

func decodeCursorEntered(data []byte) (Message, error) {
	const n = len(CodeCursorEntered)
	if len(data) < n+10 {
		return nil, &InsufficientDataError{Expected: n + 10, Actual: len(data)}
	}
	x, _ := readI16(data, n)
	y, _ := readI16(data, n+2)
	seq, _ := readU32(data, n+4)
	mask, _ := readU16(data, n+8)
	return &CursorEntered{X: x, Y: y, Sequence: seq, Mask: mask}, nil
}

// CursorLeft ("COUT") - the cursor left this screen
type CursorLeft struct{}

func (*CursorLeft) Code() string { return CodeCursorLeft }

func (m *CursorLeft) Encode() []byte { return []byte(CodeCursorLeft) }

func decodeCursorLeft([]byte) (Message, error) { return &CursorLeft{}, nil }

// ClientClipboard ("CCLP") - the peer grabbed clipboard ownership
type ClientClipboard struct {
	ID       uint8 // 0 = primary clipboard, 1 = X11 selection
	Sequence uint32
}

func (*ClientClipboard) Code() string { return CodeClientClipboard }

func (m *ClientClipboard) Encode() []byte {
	b := make([]byte, 0, len(CodeClientClipboard)+5)
	b = append(b, CodeClientClipboard...)
	b = append(b, m.ID)
	b = binary.BigEndian.AppendUint32(b, m.Sequence)
	return b
}

func decodeClientClipboard(data []byte) (Message, error) {
	const n = len(CodeClientClipboard)
	if len(data) < n+5 {
		return nil, &InsufficientDataError{Expected: n + 5, Actual: len(data)}
	}
	id, _ := readU8(data, n)
	seq, _ := readU32(data, n+1)
	return &ClientClipboard{ID: id, Sequence: seq}, nil
}

// ScreenSaverChange ("CSEC") - screen saver started (1) or stopped (0)
type ScreenSaverChange struct {
	State uint8
}

func (*ScreenSaverChange) Code() string { return CodeScreenSaverChange }

func (m *ScreenSaverChange) Encode() []byte {
	b := make([]byte, 0, len(CodeScreenSaverChange)+1)
	b = append(b, CodeScreenSaverChange...)
	return append(b, m.State)
}

func decodeScreenSaverChange(data []byte) (Message, error) {
	const n = len(CodeScreenSaverChange)
	state, err := readU8(data, n)
	if err != nil {
		return nil, err
	}
	return &ScreenSaverChange{State: state}, nil
}

// ResetOptions ("CROP") - discard the negotiated option overlay
type ResetOptions struct{}

func (*ResetOptions) Code() string { return CodeResetOptions }

func (m *ResetOptions) Encode() []byte { return []byte(CodeResetOptions) }

func decodeResetOptions([]byte) (Message, error) { return &ResetOptions{}, nil }

// InfoAck ("CIAK") - acknowledges a ClientInfo
type InfoAck struct{}

func (*InfoAck) Code() string { return CodeInfoAck }

func (m *InfoAck) Encode() []byte { return []byte(CodeInfoAck) }

func decodeInfoAck([]byte) (Message, error) { return &InfoAck{}, nil }

// KeepAlive ("CALV") - liveness probe; echoed by the receiver
type KeepAlive struct{}

func (*KeepAlive) Code() string { return CodeKeepAlive }

func (m *KeepAlive) Encode() []byte { return []byte(CodeKeepAlive) }

func decodeKeepAlive([]byte) (Message, error) { return &KeepAlive{}, nil }

// KeyDownLang ("DKDL") - key press carrying the active keyboard language
type KeyDownLang struct {
	KeyID  uint16
	Mask   uint16
	Button uint16
	Lang   string
}

func (*KeyDownLang) Code() string { return CodeKeyDownLang }

func (m *KeyDownLang) Encode() []byte {
	b := make([]byte, 0, len(CodeKeyDownLang)+10+len(m.Lang))
	b = append(b, CodeKeyDownLang...)
	b = binary.BigEndian.AppendUint16(b, m.KeyID)
	b = binary.BigEndian.AppendUint16(b, m.Mask)
	b = binary.BigEndian.AppendUint16(b, m.Button)
	return appendString(b, m.Lang)
}

func decodeKeyDownLang(data []byte) (Message, error) {
	const n = len(CodeKeyDownLang)
	if len(data) < n+6 {
		return nil, &InsufficientDataError{Expected: n + 6, Actual: len(data)}
	}
	keyID, _ := readU16(data, n)
	mask, _ := readU16(data, n+2)
	button, _ := readU16(data, n+4)
	lang, _, err := readString(data, n+6)
	if err != nil {
		return nil, err
	}
	return &KeyDownLang{KeyID: keyID, Mask: mask, Button: button, Lang: lang}, nil
}

// KeyDown ("DKDN") - key press. KeyID is the virtual key (keysym on X11),
// Button the physical key code.
type KeyDown struct {
	KeyID  uint16
	Mask   uint16
	Button uint16
}

func (*KeyDown) Code() string { return CodeKeyDown }

func (m *KeyDown) Encode() []byte {
	return encodeKeyEvent(CodeKeyDown, m.KeyID, m.Mask, m.Button)
}

func decodeKeyDown(data []byte) (Message, error) {
	keyID, mask, button, err := decodeKeyEvent(data, len(CodeKeyDown))
	if err != nil {
		return nil, err
	}
	return &KeyDown{KeyID: keyID, Mask: mask, Button: button}, nil
}

// KeyRepeat ("DKRP") - autorepeat; Count key events since the last message
type KeyRepeat struct {
	KeyID  uint16
	Mask   uint16
	Button uint16
	Count  uint16
	Lang   string
}

func (*KeyRepeat) Code() string { return CodeKeyRepeat }

func (m *KeyRepeat) Encode() []byte {
	b := make([]byte, 0, len(CodeKeyRepeat)+12+len(m.Lang))
	b = append(b, CodeKeyRepeat...)
	b = binary.BigEndian.AppendUint16(b, m.KeyID)
	b = binary.BigEndian.AppendUint16(b, m.Mask)
	b = binary.BigEndian.AppendUint16(b, m.Button)
	b = binary.BigEndian.AppendUint16(b, m.Count)
	return appendString(b, m.Lang)
}

func decodeKeyRepeat(data []byte) (Message, error) {
	const n = len(CodeKeyRepeat)
	if len(data) < n+8 {
		return nil, &InsufficientDataError{Expected: n + 8, Actual: len(data)}
	}
	keyID, _ := readU16(data, n)
	mask, _ := readU16(data, n+2)
	button, _ := readU16(data, n+4)
	count, _ := readU16(data, n+6)
	lang, _, err := readString(data, n+8)
	if err != nil {
		return nil, err
	}
	return &KeyRepeat{KeyID: keyID, Mask: mask, Button: button, Count: count, Lang: lang}, nil
}

// KeyUp ("DKUP") - key release
type KeyUp struct {
	KeyID  uint16
	Mask   uint16
	Button uint16
}

func (*KeyUp) Code() string { return CodeKeyUp }

func (m *KeyUp) Encode() []byte {
	return encodeKeyEvent(CodeKeyUp, m.KeyID, m.Mask, m.Button)
}

func decodeKeyUp(data []byte) (Message, error) {
	keyID, mask, button, err := decodeKeyEvent(data, len(CodeKeyUp))
	if err != nil {
		return nil, err
	}
	return &KeyUp{KeyID: keyID, Mask: mask, Button: button}, nil
}

func encodeKeyEvent(code string, keyID, mask, button uint16) []byte {
	b := make([]byte, 0, len(code)+6)
	b = append(b, code...)
	b = binary.BigEndian.AppendUint16(b, keyID)
	b = binary.BigEndian.AppendUint16(b, mask)
	b = binary.BigEndian.AppendUint16(b, button)
	return b
}

func decodeKeyEvent(data []byte, codeLen int) (keyID, mask, button uint16, err error) {
	if len(data) < codeLen+6 {
		return 0, 0, 0, &InsufficientDataError{Expected: codeLen + 6, Actual: len(data)}
	}
	keyID, _ = readU16(data, codeLen)
	mask, _ = readU16(data, codeLen+2)
	button, _ = readU16(data, codeLen+4)
	return keyID, mask, button, nil
}

// MouseButtonDown ("DMDN") - mouse button press (1=left, 2=right, 3=middle)
type MouseButtonDown struct {
	Button uint8
}

func (*MouseButtonDown) Code() string { return CodeMouseButtonDown }

func (m *MouseButtonDown) Encode() []byte {
	b := make([]byte, 0, len(CodeMouseButtonDown)+1)
	b = append(b, CodeMouseButtonDown...)
	return append(b, m.Button)
}

func decodeMouseButtonDown(data []byte) (Message, error) {
	button, err := readU8(data, len(CodeMouseButtonDown))
	if err != nil {
		return nil, err
	}
	return &MouseButtonDown{Button: button}, nil
}

// MouseButtonUp ("DMUP") - mouse button release
type MouseButtonUp struct {
	Button uint8
}

func (*MouseButtonUp) Code() string { return CodeMouseButtonUp }

func (m *MouseButtonUp) Encode() []byte {
	b := make([]byte, 0, len(CodeMouseButtonUp)+1)
	b = append(b, CodeMouseButtonUp...)
	return append(b, m.Button)
}

func decodeMouseButtonUp(data []byte) (Message, error) {
	button, err := readU8(data, len(CodeMouseButtonUp))
	if err != nil {
		return nil, err
	}
	return &MouseButtonUp{Button: button}, nil
}

// MouseMove ("DMMV") - absolute cursor position
type MouseMove struct {
	X int16
	Y int16
}

func (*MouseMove) Code() string { return CodeMouseMove }

func (m *MouseMove) Encode() []byte {
	return encodeCoordPair(CodeMouseMove, m.X, m.Y)
}

func decodeMouseMove(data []byte) (Message, error) {
	x, y, err := decodeCoordPair(data, len(CodeMouseMove))
	if err != nil {
		return nil, err
	}
	return &MouseMove{X: x, Y: y}, nil
}

// MouseRelativeMove ("DMRM") - cursor delta since the last move
type MouseRelativeMove struct {
	DX int16
	DY int16
}

func (*MouseRelativeMove) Code() string { return CodeMouseRelativeMove }

func (m *MouseRelativeMove) Encode() []byte {
	return encodeCoordPair(CodeMouseRelativeMove, m.DX, m.DY)
}

func decodeMouseRelativeMove(data []byte) (Message, error) {
	dx, dy, err := decodeCoordPair(data, len(CodeMouseRelativeMove))
	if err != nil {
		return nil, err
	}
	return &MouseRelativeMove{DX: dx, DY: dy}, nil
}

// MouseWheel ("DMWM") - scroll wheel movement; +120 per detent toward the
// user/right per the protocol family convention
type MouseWheel struct {
	XDelta int16
	YDelta int16
}

func (*MouseWheel) Code() string { return CodeMouseWheel }

func (m *MouseWheel) Encode() []byte {
	return encodeCoordPair(CodeMouseWheel, m.XDelta, m.YDelta)
}

func decodeMouseWheel(data []byte) (Message, error) {
	x, y, err := decodeCoordPair(data, len(CodeMouseWheel))
	if err != nil {
		return nil, err
	}
	return &MouseWheel{XDelta: x, YDelta: y}, nil
}

func encodeCoordPair(code string, a, b int16) []byte {
	buf := make([]byte, 0, len(code)+4)
	buf = append(buf, code...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(a))
	buf = binary.BigEndian.AppendUint16(buf, uint16(b))
	return buf
}

func decodeCoordPair(data []byte, codeLen int) (int16, int16, error) {
	if len(data) < codeLen+4 {
		return 0, 0, &InsufficientDataError{Expected: codeLen + 4, Actual: len(data)}
	}
	a, _ := readI16(data, codeLen)
	b, _ := readI16(data, codeLen+2)
	return a, b, nil
}

// ClipboardData ("DCLP") - clipboard contents. Sequence echoes the most
// recent CursorEntered on this leg; Mark is one of the Stream* values.
type ClipboardData struct {
	ID       uint8
	Sequence uint32
	Mark     uint8
	Data     string
}

func (*ClipboardData) Code() string { return CodeClipboardData }

func (m *ClipboardData) Encode() []byte {
	b := make([]byte, 0, len(CodeClipboardData)+10+len(m.Data))
	b = append(b, CodeClipboardData...)
	b = append(b, m.ID)
	b = binary.BigEndian.AppendUint32(b, m.Sequence)
	b = append(b, m.Mark)
	return appendString(b, m.Data)
}

func decodeClipboardData(data []byte) (Message, error) {
	const n = len(CodeClipboardData)
	if len(data) < n+6 {
		return nil, &InsufficientDataError{Expected: n + 6, Actual: len(data)}
	}
	id, _ := readU8(data, n)
	seq, _ := readU32(data, n+1)
	mark, _ := readU8(data, n+5)
	payload, _, err := readString(data, n+6)
	if err != nil {
		return nil, err
	}
	return &ClipboardData{ID: id, Sequence: seq, Mark: mark, Data: payload}, nil
}

// ClientInfo ("DINF") - screen geometry report. Size is the obsolete warp
// zone width and should be zero.
type ClientInfo struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
	MouseX uint16
	MouseY uint16
	Size   uint16
}

func (*ClientInfo) Code() string { return CodeClientInfo }

func (m *ClientInfo) Encode() []byte {
	b := make([]byte, 0, len(CodeClientInfo)+14)
	b = append(b, CodeClientInfo...)
	for _, v := range [7]uint16{m.X, m.Y, m.Width, m.Height, m.MouseX, m.MouseY, m.Size} {
		b = binary.BigEndian.AppendUint16(b, v)
	}
	return b
}

func decodeClientInfo(data []byte) (Message, error) {
	const n = len(CodeClientInfo)
	if len(data) < n+14 {
		return nil, &InsufficientDataError{Expected: n + 14, Actual: len(data)}
	}
	var f [7]uint16
	for i := range f {
		f[i], _ = readU16(data, n+2*i)
	}
	return &ClientInfo{
		X: f[0], Y: f[1], Width: f[2], Height: f[3],
		MouseX: f[4], MouseY: f[5], Size: f[6],
	}, nil
}

// Option is one (key, value) entry of a SetOptions message. Keys the
// library does not recognize pass through untouched.
type Option struct {
	Key   OptionKey
	Value uint32
}

// SetOptions ("DSOP") - option list applied as an overlay, order preserved.
// On the wire the leading element count includes itself, so k pairs encode
// as count 1+2k.
type SetOptions struct {
	Options []Option
}

func (*SetOptions) Code() string { return CodeSetOptions }

func (m *SetOptions) Encode() []byte {
	b := make([]byte, 0, len(CodeSetOptions)+4+8*len(m.Options))
	b = append(b, CodeSetOptions...)
	b = binary.BigEndian.AppendUint32(b, uint32(1+2*len(m.Options)))
	for _, opt := range m.Options {
		b = binary.BigEndian.AppendUint32(b, uint32(opt.Key))
		b = binary.BigEndian.AppendUint32(b, opt.Value)
	}
	return b
}

func decodeSetOptions(data []byte) (Message, error) {
	const n = len(CodeSetOptions)
	count, err := readU32(data, n)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, &InvalidDataError{Reason: "DSOP element count must be at least 1"}
	}
	elements := int(count - 1)
	if elements%2 != 0 {
		return nil, &InvalidDataError{Reason: "DSOP elements must form key/value pairs"}
	}
	pairs := elements / 2
	expected := n + 4 + pairs*8
	if len(data) < expected {
		return nil, &InsufficientDataError{Expected: expected, Actual: len(data)}
	}
	var options []Option
	if pairs > 0 {
		options = make([]Option, 0, pairs)
		for off := n + 4; off < expected; off += 8 {
			key, _ := readU32(data, off)
			value, _ := readU32(data, off+4)
			options = append(options, Option{Key: OptionKey(key), Value: value})
		}
	}
	return &SetOptions{Options: options}, nil
}

// FileTransfer ("DFTR") - file transfer chunk. A StreamStart carries the
// total size in Data, StreamMiddle the content, StreamEnd nothing.
type FileTransfer struct {
	Mark uint8
	Data string
}

func (*FileTransfer) Code() string { return CodeFileTransfer }

func (m *FileTransfer) Encode() []byte {
	b := make([]byte, 0, len(CodeFileTransfer)+5+len(m.Data))
	b = append(b, CodeFileTransfer...)
	b = append(b, m.Mark)
	return appendString(b, m.Data)
}

func decodeFileTransfer(data []byte) (Message, error) {
	const n = len(CodeFileTransfer)
	if len(data) < n+1 {
		return nil, &InsufficientDataError{Expected: n + 1, Actual: len(data)}
	}
	mark, _ := readU8(data, n)
	payload, _, err := readString(data, n+1)
	if err != nil {
		return nil, err
	}
	return &FileTransfer{Mark: mark, Data: payload}, nil
}

// DragInfo ("DDRG") - drag-and-drop start; Files holds null-separated paths
type DragInfo struct {
	FileCount uint16
	Files     string
}

func (*DragInfo) Code() string { return CodeDragInfo }

func (m *DragInfo) Encode() []byte {
	b := make([]byte, 0, len(CodeDragInfo)+6+len(m.Files))
	b = append(b, CodeDragInfo...)
	b = binary.BigEndian.AppendUint16(b, m.FileCount)
	return appendString(b, m.Files)
}

func decodeDragInfo(data []byte) (Message, error) {
	const n = len(CodeDragInfo)
	if len(data) < n+2 {
		return nil, &InsufficientDataError{Expected: n + 2, Actual: len(data)}
	}
	count, _ := readU16(data, n)
	files, _, err := readString(data, n+2)
	if err != nil {
		return nil, err
	}
	return &DragInfo{FileCount: count, Files: files}, nil
}

// SecureInput ("SECN") - an application on the server enabled secure input
// (macOS); App names it so clients can tell the user why keys stopped
type SecureInput struct {
	App string
}

func (*SecureInput) Code() string { return CodeSecureInput }

func (m *SecureInput) Encode() []byte {
	b := make([]byte, 0, len(CodeSecureInput)+4+len(m.App))
	b = append(b, CodeSecureInput...)
	return appendString(b, m.App)
}

func decodeSecureInput(data []byte) (Message, error) {
	app, _, err := readString(data, len(CodeSecureInput))
	if err != nil {
		return nil, err
	}
	return &SecureInput{App: app}, nil
}

// LanguageSync ("LSYN") - server keyboard languages, comma-separated
// ISO 639-1 codes
type LanguageSync struct {
	Languages string
}

func (*LanguageSync) Code() string { return CodeLanguageSync }

func (m *LanguageSync) Encode() []byte {
	b := make([]byte, 0, len(CodeLanguageSync)+4+len(m.Languages))
	b = append(b, CodeLanguageSync...)
	return appendString(b, m.Languages)
}

func decodeLanguageSync(data []byte) (Message, error) {
	langs, _, err := readString(data, len(CodeLanguageSync))
	if err != nil {
		return nil, err
	}
	return &LanguageSync{Languages: langs}, nil
}

// QueryInfo ("QINF") - asks the peer for its ClientInfo
type QueryInfo struct{}

func (*QueryInfo) Code() string { return CodeQueryInfo }

func (m *QueryInfo) Encode() []byte { return []byte(CodeQueryInfo) }

func decodeQueryInfo([]byte) (Message, error) { return &QueryInfo{}, nil }

// IncompatibleVersion ("EICV") - handshake rejection echoing the version
// the remote side advertised
type IncompatibleVersion struct {
	RemoteMajor uint16
	RemoteMinor uint16
}

func (*IncompatibleVersion) Code() string { return CodeIncompatibleVersion }

func (m *IncompatibleVersion) Encode() []byte {
	b := make([]byte, 0, len(CodeIncompatibleVersion)+4)
	b = append(b, CodeIncompatibleVersion...)
	b = binary.BigEndian.AppendUint16(b, m.RemoteMajor)
	b = binary.BigEndian.AppendUint16(b, m.RemoteMinor)
	return b
}

func decodeIncompatibleVersion(data []byte) (Message, error) {
	const n = len(CodeIncompatibleVersion)
	if len(data) < n+4 {
		return nil, &InsufficientDataError{Expected: n + 4, Actual: len(data)}
	}
	major, _ := readU16(data, n)
	minor, _ := readU16(data, n+2)
	return &IncompatibleVersion{RemoteMajor: major, RemoteMinor: minor}, nil
}

// ServerBusy ("EBSY") - a client with this name is already connected
type ServerBusy struct{}

func (*ServerBusy) Code() string { return CodeServerBusy }

func (m *ServerBusy) Encode() []byte { return []byte(CodeServerBusy) }

func decodeServerBusy([]byte) (Message, error) { return &ServerBusy{}, nil }

// UnknownClient ("EUNK") - the offered name is not in the server topology
type UnknownClient struct{}

func (*UnknownClient) Code() string { return CodeUnknownClient }

func (m *UnknownClient) Encode() []byte { return []byte(CodeUnknownClient) }

func decodeUnknownClient([]byte) (Message, error) { return &UnknownClient{}, nil }

// ProtocolViolation ("EBAD") - the peer broke the protocol; sent before
// the connection is dropped
type ProtocolViolation struct{}

func (*ProtocolViolation) Code() string { return CodeProtocolViolation }

func (m *ProtocolViolation) Encode() []byte { return []byte(CodeProtocolViolation) }

func decodeProtocolViolation([]byte) (Message, error) { return &ProtocolViolation{}, nil }
