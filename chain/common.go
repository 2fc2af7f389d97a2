package chain

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrConnection marks an RPC call that failed even after the retry policy
	// ran out of attempts. Callers must treat it as "unknown", never as an
	// empty result.
	ErrConnection = errors.New("chain rpc unavailable")

	// ErrNotApplicable marks a log that does not belong to the configured
	// bridge contract or carries an unknown event signature.
	ErrNotApplicable = errors.New("log not applicable to bridge contract")
)

// Response fragments nodes use to reject an eth_getLogs span that is too wide.
// There is no standard error code for this, so matching is by message.
const (
	RangeTooWideMessage       = "block range is too wide"
	RangeLimitExceededMessage = "exceed maximum block range"
	TooManyResultsMessage     = "query returned more than"
	TooManyBlocksMessage      = "requested too many blocks"
	ResponseSizeMessage       = "response size exceeded"
	RangeTooLargeMessage      = "range too large"
)

func isRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, RangeTooWideMessage) ||
		strings.Contains(msg, RangeLimitExceededMessage) ||
		strings.Contains(msg, TooManyResultsMessage) ||
		strings.Contains(msg, TooManyBlocksMessage) ||
		strings.Contains(msg, ResponseSizeMessage) ||
		strings.Contains(msg, RangeTooLargeMessage)
}
