package qubesadmin

import (
	"bytes"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Response envelope markers.
var (
	responseOK    = []byte{0x30, 0x00}
	responseError = []byte{0x32, 0x00}
)

// parseResponse decodes a raw qubesd response into the call's payload, or
// into the error the daemon reported. An empty response and an unrecognized
// envelope are communication-level failures; everything else surfaces as a
// ServerError carrying the remote exception type and rendered message.
func parseResponse(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &api.NoResponseError{}
	}

	if bytes.HasPrefix(data, responseOK) {
		return data[2:], nil
	}

	if bytes.HasPrefix(data, responseError) {
		fields := bytes.SplitN(data[2:], []byte{0x00}, 4)
		if len(fields) < 4 {
			return nil, api.CommunicationErrorf("Invalid response format")
		}

		name := string(fields[0])
		// fields[1] is the traceback placeholder, currently unused.
		format := string(fields[2])

		// The argument list is NUL-separated and NUL-terminated, so
		// the final element of the split is always dropped.
		var args []string
		if len(fields[3]) > 0 {
			parts := strings.Split(string(fields[3]), "\x00")
			args = parts[:len(parts)-1]
		}

		return nil, api.NewServerError(name, format, args...)
	}

	return nil, api.CommunicationErrorf("Invalid response format")
}
