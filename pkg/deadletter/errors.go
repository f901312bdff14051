package deadletter

import "errors"

var (
	ErrUnknownBackend  = errors.New("unknown dead-letter backend")
	ErrStoreFailed     = errors.New("dead-letter store operation failed")
	ErrFallbackFailed  = errors.New("dead-letter fallback log failed")
	ErrCorruptFallback = errors.New("corrupt dead-letter fallback entry")
	ErrAlreadyReplayed = errors.New("dead-letter record already replayed")
	ErrReplayFailed    = errors.New("dead-letter replay failed")
)
