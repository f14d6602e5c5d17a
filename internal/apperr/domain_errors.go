package apperr

var (
	ErrMissingToken      = Unauthorized("missing bearer token")
	ErrInvalidToken      = Unauthorized("invalid or expired token")
	ErrTokenRevoked      = Unauthorized("token has been revoked")
	ErrInvalidCredential = Unauthorized("wrong email or password")
	ErrUnknownIdentity   = Unauthorized("no account for this identity")
	ErrAccountInactive   = Unauthorized("account is not active")

	ErrUserNotFound      = NotFound("user not found")
	ErrUserInactive      = FailedPrecondition("user account is not active")
	ErrEmailTaken        = AlreadyExists("email already in use")
	ErrUsernameTaken     = AlreadyExists("username already taken")
	ErrNotSelf           = Forbidden("not authorized to modify this user")
	ErrSelfPartner       = InvalidArg("cannot link user to themselves")
	ErrNoPartner         = FailedPrecondition("user has no linked partner")
	ErrPartnerLinked     = AlreadyExists("user is already linked to another partner")
	ErrCoupleNotFound    = NotFound("couple not found")
	ErrNotCoupleMember   = Forbidden("not a member of this couple")
	ErrAlreadyInCouple   = AlreadyExists("user already has an active couple")
	ErrPartnerInCouple   = AlreadyExists("partner already has an active couple")
	ErrSelfCouple        = InvalidArg("cannot create a couple with yourself")
	ErrPartnerNotFound   = NotFound("no user with that email")
	ErrSessionNotFound   = NotFound("session not found")
	ErrSessionFull       = FailedPrecondition("session is full")
	ErrAlreadyInSession  = AlreadyExists("user already has an active session")
	ErrNotSessionCreator = Forbidden("only the session creator can do this")
	ErrNotParticipant    = Forbidden("not a participant of this session")
	ErrInvalidMode       = InvalidArg("session_mode must be solo or couple")
)
