package codec

// Kind is the Liqi frame's leading tag byte.
type Kind byte

const (
	KindNotify Kind = 1
	KindReq    Kind = 2
	KindRes    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindNotify:
		return "notify"
	case KindReq:
		return "req"
	case KindRes:
		return "res"
	default:
		return "unknown"
	}
}

// Frame is the Codec's canonical parsed view of a wire frame. It is a
// tagged union in spirit (Kind selects which fields are meaningful) rather
// than a loose dictionary, per the "dynamic view dictionaries" redesign
// note: MsgID is only valid when HasMsgID is true (Req/Res), Inner is only
// populated for Notify frames whose payload decoded cleanly.
type Frame struct {
	Kind       Kind
	HasMsgID   bool
	MsgID      uint16
	Method     string
	Body       *Message // decoded RPC message (Req/Res) or notify wrapper (Notify)
	Inner      *Message // de-obfuscated inner message for Notify, nil otherwise
	InnerName  string   // inner type name for Notify, "" otherwise
	Opaque     bool     // true when Body could not be resolved against a known response type
	FromClient bool
	Raw        []byte // original frame bytes, kept for rebuild parity
}

// IsRequest reports whether the frame is a client-originated Req.
func (f *Frame) IsRequest() bool { return f.Kind == KindReq }

// IsResponse reports whether the frame is a server Res.
func (f *Frame) IsResponse() bool { return f.Kind == KindRes }

// IsNotify reports whether the frame is a server Notify.
func (f *Frame) IsNotify() bool { return f.Kind == KindNotify }
