package qubesadmin

import (
	"fmt"
	"io"
	"net"
	"os/exec"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Transport performs individual admin API calls against qubesd. It is
// supplied by one of the Connect functions and consumed by App,
// PropertyHolder and EventsDispatcher.
type Transport interface {
	// Call performs one API round trip and returns the raw response
	// bytes, before any envelope decoding.
	Call(dest string, method string, arg string, payload []byte) ([]byte, error)

	// OpenEvents opens a persistent byte stream carrying the event feed
	// produced by the given API method.
	OpenEvents(dest string, method string) (io.ReadCloser, error)

	// ServiceCommand returns a prepared (not started) command invoking a
	// qrexec service in the given destination.
	ServiceCommand(dest string, service string) *exec.Cmd

	// Type returns the connection type, "socket" or "qrexec".
	Type() string
}

// callHeader builds the request header used on the qubesd socket.
func callHeader(dest string, method string, arg string) []byte {
	return []byte(fmt.Sprintf("%s+%s dom0 name %s\x00", method, arg, dest))
}

// unixTransport talks to qubesd directly over its unix socket. One
// connection is made per call; the write side is shut down after sending the
// request and the response is read until EOF.
type unixTransport struct {
	socketPath string
}

func (t *unixTransport) Call(dest string, method string, arg string, payload []byte) ([]byte, error) {
	conn, err := net.Dial("unix", t.socketPath)
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to connect to qubesd service: %v", err)
	}

	defer func() { _ = conn.Close() }()

	_, err = conn.Write(callHeader(dest, method, arg))
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to send request to qubesd: %v", err)
	}

	if payload != nil {
		_, err = conn.Write(payload)
		if err != nil {
			return nil, api.CommunicationErrorf("Failed to send payload to qubesd: %v", err)
		}
	}

	err = conn.(*net.UnixConn).CloseWrite()
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to close write side: %v", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to read response from qubesd: %v", err)
	}

	return data, nil
}

func (t *unixTransport) OpenEvents(dest string, method string) (io.ReadCloser, error) {
	conn, err := net.Dial("unix", t.socketPath)
	if err != nil {
		// Returned unwrapped so the reconnect policy can recognize a
		// refused connection.
		return nil, err
	}

	_, err = conn.Write(callHeader(dest, method, ""))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	err = conn.(*net.UnixConn).CloseWrite()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func (t *unixTransport) ServiceCommand(dest string, service string) *exec.Cmd {
	return exec.Command(qrexecClientPath, "-d", dest, fmt.Sprintf("DEFAULT:QUBESRPC %s dom0", service))
}

func (t *unixTransport) Type() string {
	return "socket"
}

// qrexecTransport reaches qubesd through qrexec service calls, for use
// inside a management VM.
type qrexecTransport struct {
	clientVM string
}

func (t *qrexecTransport) serviceName(method string, arg string) string {
	if arg == "" {
		return method
	}

	return method + "+" + arg
}

func (t *qrexecTransport) Call(dest string, method string, arg string, payload []byte) ([]byte, error) {
	cmd := exec.Command(t.clientVM, dest, t.serviceName(method, arg))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to set up %s: %v", t.clientVM, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to set up %s: %v", t.clientVM, err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, api.CommunicationErrorf("Failed to run %s: %v", t.clientVM, err)
	}

	if payload != nil {
		_, err = stdin.Write(payload)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, api.CommunicationErrorf("Failed to send payload: %v", err)
		}
	}

	_ = stdin.Close()

	data, readErr := io.ReadAll(stdout)

	err = cmd.Wait()
	if err != nil {
		// A non-zero exit means the call was denied by policy or
		// failed before reaching qubesd.
		return nil, api.NoResponseErrorf("Service call error: %v", err)
	}

	if readErr != nil {
		return nil, api.CommunicationErrorf("Failed to read response: %v", readErr)
	}

	return data, nil
}

// qrexecStream wraps the stdout of a running qrexec client, killing the
// process when the stream is closed.
type qrexecStream struct {
	io.Reader
	cmd *exec.Cmd
}

func (s *qrexecStream) Close() error {
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	return nil
}

func (t *qrexecTransport) OpenEvents(dest string, method string) (io.ReadCloser, error) {
	cmd := exec.Command(t.clientVM, dest, method)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	err = cmd.Start()
	if err != nil {
		return nil, err
	}

	_ = stdin.Close()

	return &qrexecStream{Reader: stdout, cmd: cmd}, nil
}

func (t *qrexecTransport) ServiceCommand(dest string, service string) *exec.Cmd {
	return exec.Command(t.clientVM, dest, service)
}

func (t *qrexecTransport) Type() string {
	return "qrexec"
}
