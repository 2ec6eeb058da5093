package network

// State is a step of the connection state machine.
type State int

const (
	StateSearching State = iota
	StateCheckingFiles
	StateAskingFullFileList
	StateConfirmConnect
	StateDownloadingFiles
	StateLoadingFiles
	StateAskingJoin
	StateWaitingJoinResponse
	StateDownloadingSaveGame
	StateConnected
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateCheckingFiles:
		return "checking files"
	case StateAskingFullFileList:
		return "asking full file list"
	case StateConfirmConnect:
		return "confirm connect"
	case StateDownloadingFiles:
		return "downloading files"
	case StateLoadingFiles:
		return "loading files"
	case StateAskingJoin:
		return "asking join"
	case StateWaitingJoinResponse:
		return "waiting join response"
	case StateDownloadingSaveGame:
		return "downloading game state"
	case StateConnected:
		return "connected"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// inGame reports whether the server considers the client joined.
func (s State) inGame() bool {
	return s == StateDownloadingSaveGame || s == StateConnected
}

// ConfirmRequest is what the player is asked before joining.
type ConfirmRequest struct {
	ServerName string
	// DownloadBytes is the size of the content to fetch first.
	DownloadBytes int64
	// Full is set when the server has no free slot and the client would
	// wait for one.
	Full bool
}

// Prompter asks the player to confirm a connection. Ask must not block;
// the client polls Answer every update until it reports done.
type Prompter interface {
	Ask(req ConfirmRequest)
	Answer() (accept, done bool)
}

// AutoPrompter answers every request at once.
type AutoPrompter struct {
	Accept bool
}

func (AutoPrompter) Ask(ConfirmRequest) {}

func (p AutoPrompter) Answer() (bool, bool) { return p.Accept, true }

// ManualPrompter holds the request until Decide is called.
type ManualPrompter struct {
	pending  *ConfirmRequest
	accept   bool
	answered bool
}

func (p *ManualPrompter) Ask(req ConfirmRequest) {
	p.pending = &req
	p.answered = false
}

func (p *ManualPrompter) Answer() (bool, bool) {
	if !p.answered {
		return false, false
	}
	p.pending = nil
	p.answered = false
	return p.accept, true
}

// Pending returns the unanswered request, if any.
func (p *ManualPrompter) Pending() (ConfirmRequest, bool) {
	if p.pending == nil || p.answered {
		return ConfirmRequest{}, false
	}
	return *p.pending, true
}

// Decide answers the pending request.
func (p *ManualPrompter) Decide(accept bool) {
	if p.pending == nil {
		return
	}
	p.accept = accept
	p.answered = true
}
