package protocol

// ErrorCode is the generic result byte carried by response messages.
type ErrorCode int8

const (
	ErrMsgOK                   ErrorCode = iota // everything is fine
	ErrMsgFailure                               // the action failed
	ErrMsgNoLogin                               // the user is not yet logged
	ErrMsgNoCharacterSelected                   // the user needs a character
	ErrMsgInsufficientRights                    // the user is not privileged
	ErrMsgInvalidArgument                       // part of the received message was invalid
	ErrMsgEmailAlreadyExists                    // the email address already exists
	ErrMsgAlreadyTaken                          // name used was already taken
	ErrMsgServerFull                            // the server is overloaded
	ErrMsgTimeOut                               // data failed to arrive in due time
	ErrMsgLimitReached                          // limit reached
	ErrMsgAdministrativeLogoff                  // kicked by server administrator
)

var errorCodeNames = map[ErrorCode]string{
	ErrMsgOK:                   "ERRMSG_OK",
	ErrMsgFailure:              "ERRMSG_FAILURE",
	ErrMsgNoLogin:              "ERRMSG_NO_LOGIN",
	ErrMsgNoCharacterSelected:  "ERRMSG_NO_CHARACTER_SELECTED",
	ErrMsgInsufficientRights:   "ERRMSG_INSUFFICIENT_RIGHTS",
	ErrMsgInvalidArgument:      "ERRMSG_INVALID_ARGUMENT",
	ErrMsgEmailAlreadyExists:   "ERRMSG_EMAIL_ALREADY_EXISTS",
	ErrMsgAlreadyTaken:         "ERRMSG_ALREADY_TAKEN",
	ErrMsgServerFull:           "ERRMSG_SERVER_FULL",
	ErrMsgTimeOut:              "ERRMSG_TIME_OUT",
	ErrMsgLimitReached:         "ERRMSG_LIMIT_REACHED",
	ErrMsgAdministrativeLogoff: "ERRMSG_ADMINISTRATIVE_LOGOFF",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "ERRMSG_UNKNOWN"
}

// ErrorCodeNames returns a fresh name → code map of every generic result code.
func ErrorCodeNames() map[string]ErrorCode {
	out := make(map[string]ErrorCode, len(errorCodeNames))
	for c, name := range errorCodeNames {
		out[name] = c
	}
	return out
}
