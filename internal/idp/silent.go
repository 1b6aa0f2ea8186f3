package idp

// SilentStatus tags the variant of a SilentResult
type SilentStatus int

const (
	// SilentSuccess means Token holds a usable token
	SilentSuccess SilentStatus = iota
	// SilentInteractionRequired means the user must sign in again
	SilentInteractionRequired
	// SilentFailure means the attempt failed for another reason; Err holds the cause
	SilentFailure
)

func (s SilentStatus) String() string {
	switch s {
	case SilentSuccess:
		return "success"
	case SilentInteractionRequired:
		return "interaction_required"
	case SilentFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// SilentResult is the outcome of a silent token acquisition
type SilentResult struct {
	Status SilentStatus
	Token  *TokenResult
	Err    error
}

// SilentOK wraps a token as a successful result
func SilentOK(token *TokenResult) SilentResult {
	return SilentResult{Status: SilentSuccess, Token: token}
}

// SilentNeedsInteraction builds an interaction-required result
func SilentNeedsInteraction(cause error) SilentResult {
	return SilentResult{Status: SilentInteractionRequired, Err: cause}
}

// SilentFailed builds a failure result
func SilentFailed(cause error) SilentResult {
	return SilentResult{Status: SilentFailure, Err: cause}
}
