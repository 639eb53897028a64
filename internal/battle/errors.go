package battle

import "errors"

// Logical rejections. They are terminal for the attempt that produced them
// and carry a specific user-facing message.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrMatchFull         = errors.New("match is full")
	ErrOwnMatch          = errors.New("cannot join your own match")
	ErrAlreadySubmitted  = errors.New("guess already submitted for this round")
	ErrNotParticipant    = errors.New("player is not in this match")
	ErrMatchNotActive    = errors.New("match is not active")
	ErrClaimLost         = errors.New("opponent was claimed by another player")
	ErrStaleState        = errors.New("record changed since it was read")
)

var rejections = []struct {
	err  error
	code string
	msg  string
}{
	{ErrNotFound, "not_found", "That battle no longer exists."},
	{ErrInvalidInviteCode, "invalid_invite_code", "That invite code doesn't match any open battle."},
	{ErrMatchFull, "match_full", "This battle already has two players."},
	{ErrOwnMatch, "own_match", "You can't join a battle you created. Share the code with a friend instead."},
	{ErrAlreadySubmitted, "already_submitted", "You already locked in a guess for this round."},
	{ErrNotParticipant, "not_participant", "You are not a player in this battle."},
	{ErrMatchNotActive, "match_not_active", "This battle is not in progress."},
	{ErrClaimLost, "claim_lost", "That opponent was just matched with someone else."},
	{ErrStaleState, "stale_state", "The battle changed while you were playing. Refreshing."},
}

// BackendError marks a failure talking to the backend: the remote
// call failed, as opposed to the backend rejecting the operation.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *BackendError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a logical rejection.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is a remote failure worth retrying. A
// cause that reports itself Permanent, such as a request the backend
// refused as malformed, is not.
func IsTransient(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) || IsRejection(err) {
		return false
	}
	var p interface{ Permanent() bool }
	return !errors.As(err, &p) || !p.Permanent()
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r.msg
		}
	}
	return "We couldn't reach the game server. Retrying…"
}

// Code returns a stable wire code for a rejection, or "" for other errors.
func Code(err error) string {
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}

// FromCode maps a wire code back to its sentinel error. Unknown codes
// return nil.
func FromCode(code string) error {
	for _, r := range rejections {
		if r.code == code {
			return r.err
		}
	}
	return nil
}
