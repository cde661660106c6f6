package reliability

import (
	"errors"
	"net"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// CloseCode labels a websocket read failure for logs and metrics.
func CloseCode(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure:
			return "normal"
		case websocket.CloseGoingAway:
			return "going_away"
		case websocket.ClosePolicyViolation:
			return "policy_violation"
		case websocket.CloseInternalServerErr:
			return "server_error"
		case websocket.CloseTryAgainLater:
			return "try_again_later"
		default:
			return "abnormal"
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	return "network"
}

// IsOrderlyClose reports whether the peer ended the stream on purpose.
func IsOrderlyClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// CloseReason returns the peer supplied close text, or the code label.
func CloseReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return ce.Text
	}
	return CloseCode(err)
}
