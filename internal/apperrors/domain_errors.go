package apperrors

var (
	ErrMessageNotFound    = NotFound("message not found")
	ErrUserNotFound       = NotFound("user not found")
	ErrReadStatusNotFound = NotFound("read status not found")

	ErrSenderCannotMarkSeen = Forbidden("only the receiver can mark a message as seen")
	ErrNotParticipant       = Forbidden("not a participant of this message")

	ErrEmptyReceiver     = Validation("receiverRef is required")
	ErrEmptyContent      = Validation("content is required")
	ErrContentTooLong    = Validation("content exceeds the maximum length")
	ErrSelfMessage       = Validation("cannot send a message to yourself")
	ErrInvalidFile       = Validation("fileMetadata requires fileName and storagePath")
	ErrNotFileMessage    = Validation("only file messages can be deleted by a participant")
	ErrMissingSaved      = Validation("saved is required")
	ErrEmptyMessageID    = Validation("messageId is required")
	ErrEmptyCounterpart  = Validation("counterpartId is required")
	ErrInvalidWindow     = Validation("invalid conversation window")
	ErrInvalidUser       = Validation("user id and username are required")
	ErrEmptyBatch        = Validation("updates must not be empty")
	ErrUnauthenticated   = Unauthenticated("authentication required")
	ErrInvalidToken      = Unauthenticated("invalid or expired token")
	ErrInvalidRegistrant = Forbidden("invalid registration token")
)

func ErrUndecryptable(cause error) error {
	return Integrity("message content failed integrity check", cause)
}

func ErrStoreUnavailable(cause error) error {
	return Dependency("message store unavailable", cause)
}

func ErrBlobStoreUnavailable(cause error) error {
	return Dependency("file storage unavailable", cause)
}
