package qubesadmin

import (
	"fmt"
	"io"
	"os/exec"
)

// recordedCall is one request the mock transport received.
type recordedCall struct {
	dest    string
	method  string
	arg     string
	payload []byte
}

// mockTransport serves canned wire-level responses keyed by the call's
// destination, method and argument, and records every request.
type mockTransport struct {
	responses map[string][]byte
	calls     []recordedCall

	events      io.ReadCloser
	eventsErr   error
	eventsOpens int
}

func newMockTransport() *mockTransport {
	return &mockTransport{responses: map[string][]byte{}}
}

func callKey(dest string, method string, arg string) string {
	return fmt.Sprintf("%s %s %s", dest, method, arg)
}

// respond registers a success response with the given payload.
func (m *mockTransport) respond(dest string, method string, arg string, payload string) {
	m.responses[callKey(dest, method, arg)] = append([]byte{0x30, 0x00}, payload...)
}

// respondError registers an error response of the given remote type.
func (m *mockTransport) respondError(dest string, method string, arg string, name string, format string, args ...string) {
	data := []byte{0x32, 0x00}
	data = append(data, name...)
	data = append(data, 0x00)
	data = append(data, 0x00) // traceback placeholder
	data = append(data, format...)
	data = append(data, 0x00)
	for _, a := range args {
		data = append(data, a...)
		data = append(data, 0x00)
	}

	m.responses[callKey(dest, method, arg)] = data
}

// respondRaw registers a verbatim wire response.
func (m *mockTransport) respondRaw(dest string, method string, arg string, data []byte) {
	m.responses[callKey(dest, method, arg)] = data
}

// lastPayload returns the payload of the most recent matching request.
func (m *mockTransport) lastPayload(dest string, method string, arg string) []byte {
	for i := len(m.calls) - 1; i >= 0; i-- {
		c := m.calls[i]
		if c.dest == dest && c.method == method && c.arg == arg {
			return c.payload
		}
	}

	return nil
}

// callCount returns how many requests matched the given call.
func (m *mockTransport) callCount(dest string, method string, arg string) int {
	n := 0
	for _, c := range m.calls {
		if c.dest == dest && c.method == method && c.arg == arg {
			n++
		}
	}

	return n
}

func (m *mockTransport) Call(dest string, method string, arg string, payload []byte) ([]byte, error) {
	m.calls = append(m.calls, recordedCall{dest: dest, method: method, arg: arg, payload: payload})

	data, ok := m.responses[callKey(dest, method, arg)]
	if !ok {
		return nil, fmt.Errorf("Unexpected call: %s %s+%s", dest, method, arg)
	}

	return data, nil
}

func (m *mockTransport) OpenEvents(dest string, method string) (io.ReadCloser, error) {
	m.eventsOpens++
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}

	return m.events, nil
}

func (m *mockTransport) ServiceCommand(dest string, service string) *exec.Cmd {
	return exec.Command("true")
}

func (m *mockTransport) Type() string {
	return "mock"
}

// newTestApp returns an App backed by the mock transport, with property
// caching on.
func newTestApp(transport Transport) *App {
	args := (&ConnectionArgs{EnableCache: true}).fill()
	return newApp(transport, args)
}
