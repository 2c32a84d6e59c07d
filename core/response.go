package core

// Response is the envelope returned by every caller-facing operation, whatever the transport.
// "Nothing found" is a success with empty Data, never an error.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Error   interface{} `json:"error,omitempty"`
}

func OK(msg string, data interface{}) Response {
	return Response{Success: true, Message: msg, Data: data}
}

func Fail(msg string, detail interface{}) Response {
	return Response{Message: msg, Error: detail}
}
