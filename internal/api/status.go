package api

import "strconv"

// Status is the HTTP-like outcome code every response carries.
type Status int

const (
	StatusOK               Status = 200
	StatusBadRequest       Status = 400
	StatusUnauthorised     Status = 401
	StatusForbidden        Status = 403
	StatusNotFound         Status = 404
	StatusMethodNotAllowed Status = 405
	StatusConflict         Status = 409
	StatusInternalError    Status = 500
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "Ok"
	case StatusBadRequest:
		return "Bad Request"
	case StatusUnauthorised:
		return "Unauthorised"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusConflict:
		return "Conflict"
	case StatusInternalError:
		return "Internal Error"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s Status) OK() bool { return s == StatusOK }
