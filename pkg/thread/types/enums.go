package types

// ThreadState is the lifecycle state of a thread document's details section.
type ThreadState int

const (
	ThreadOpen ThreadState = iota
	ThreadClosed
)

func (s ThreadState) String() string {
	if s == ThreadOpen {
		return "Open"
	}
	return "Closed"
}

// MessageDeliveryState tracks one message's per-peer delivery progress.
// Discovering < Delivered < Read; UserNotAvailable is terminal and only
// ever authored by the local sender.
type MessageDeliveryState int

const (
	Discovering MessageDeliveryState = iota
	Delivered
	Read
	UserNotAvailable
)

func (s MessageDeliveryState) String() string {
	switch s {
	case Discovering:
		return "Discovering"
	case Delivered:
		return "Delivered"
	case Read:
		return "Read"
	case UserNotAvailable:
		return "UserNotAvailable"
	default:
		return "Unknown"
	}
}

// Advances reports whether moving from s to next is a legal, forward-only
// transition per invariant 4 in spec.md §3.
func (s MessageDeliveryState) Advances(next MessageDeliveryState) bool {
	if s == UserNotAvailable {
		return false
	}
	if next == UserNotAvailable {
		return s != Read
	}
	return next > s
}

// DialogState is the call-signalling lifecycle of one Dialog.
type DialogState int

const (
	DialogNone DialogState = iota
	DialogPreparing
	DialogPlaced
	DialogIncoming
	DialogEarly
	DialogRinging
	DialogOpen
	DialogClosing
	DialogClosed
)

func (s DialogState) String() string {
	switch s {
	case DialogNone:
		return "None"
	case DialogPreparing:
		return "Preparing"
	case DialogPlaced:
		return "Placed"
	case DialogIncoming:
		return "Incoming"
	case DialogEarly:
		return "Early"
	case DialogRinging:
		return "Ringing"
	case DialogOpen:
		return "Open"
	case DialogClosing:
		return "Closing"
	case DialogClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// dialogRank gives the monotonic ordering spec.md invariant 5 requires:
// Preparing -> Placed/Incoming -> Early/Ringing -> Open -> Closing -> Closed.
// Placed and Incoming share a rank (caller/callee perspectives of the same
// step), as do Early and Ringing.
func dialogRank(s DialogState) int {
	switch s {
	case DialogNone:
		return 0
	case DialogPreparing:
		return 1
	case DialogPlaced, DialogIncoming:
		return 2
	case DialogEarly, DialogRinging:
		return 3
	case DialogOpen:
		return 4
	case DialogClosing:
		return 5
	case DialogClosed:
		return 6
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the
// dialog's monotonic state graph. Any state may jump directly to Closed.
// A Closed dialog never re-opens.
func (s DialogState) CanTransition(next DialogState) bool {
	if s == DialogClosed {
		return false
	}
	if next == DialogClosed {
		return true
	}
	return dialogRank(next) >= dialogRank(s)
}

// ClosedReason is carried in a Dialog's closed-reason attribute.
type ClosedReason int

const (
	ReasonNone ClosedReason = iota
	ReasonUser
	ReasonRequestTimeout
	ReasonTemporarilyUnavailable
	ReasonBusy
	ReasonRequestTerminated
	ReasonNotAcceptableHere
	ReasonServerInternalError
	ReasonDecline
)

// reasonStrings is the single user-presentable mapping table spec.md §9's
// open question asks for; nothing else in this module formats a reason.
var reasonStrings = map[ClosedReason]string{
	ReasonNone:                   "",
	ReasonUser:                   "Call ended",
	ReasonRequestTimeout:         "No answer",
	ReasonTemporarilyUnavailable: "Temporarily unavailable",
	ReasonBusy:                   "Busy",
	ReasonRequestTerminated:      "Call cancelled",
	ReasonNotAcceptableHere:      "Not acceptable here",
	ReasonServerInternalError:    "Server error",
	ReasonDecline:                "Declined",
}

func (r ClosedReason) String() string {
	if s, ok := reasonStrings[r]; ok {
		return s
	}
	return "Unknown"
}

// MediaType distinguishes the two kinds of call Description.
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
)

func (m MediaType) String() string {
	if m == MediaAudio {
		return "audio"
	}
	return "video"
}
