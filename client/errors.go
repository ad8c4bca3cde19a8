package client

import (
	"errors"
	"fmt"
)

var ErrNotConnected = errors.New("not connected to server")
var ErrConnectionLost = errors.New("connection lost")
var ErrDuplicateRequestId = errors.New("duplicate request id")

// RemoteError is a non-empty `error` field on a correlated response.
type RemoteError struct {
	Op      string
	Message string
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("%s: server error: %s", self.Op, self.Message)
}

// TimeoutError is a local wait expiring. The remote operation is not
// cancelled; the protocol has no cancel message.
type TimeoutError struct {
	Op       string
	Domain   string
	Received int
	Expected int
}

func (self *TimeoutError) Error() string {
	if 0 < self.Expected {
		return fmt.Sprintf("%s timeout after receiving %d/%d results", self.Op, self.Received, self.Expected)
	}
	if self.Domain != "" {
		return fmt.Sprintf("%s timeout for domain: %s", self.Op, self.Domain)
	}
	return fmt.Sprintf("%s timeout", self.Op)
}
