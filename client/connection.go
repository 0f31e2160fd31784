package qubesadmin

import (
	"os"
	"time"
)

// Default locations and timings, overridable through ConnectionArgs.
const (
	// DefaultSocketPath is the qubesd admin API socket in dom0.
	DefaultSocketPath = "/var/run/qubesd.sock"

	// DefaultQrexecClientVM is the qrexec client used from a VM.
	DefaultQrexecClientVM = "/usr/bin/qrexec-client-vm"

	// DefaultReconnectDelay is how long the events dispatcher waits
	// before reconnecting to a dead daemon.
	DefaultReconnectDelay = time.Second
)

// qrexecClientPath is the dom0-side qrexec client, used for service calls
// made over the socket transport.
const qrexecClientPath = "/usr/lib/qubes/qrexec-client"

// ConnectionArgs represents a set of common connection properties.
type ConnectionArgs struct {
	// Path to the qubesd socket. If empty, $QUBESD_SOCKET is used,
	// falling back to DefaultSocketPath.
	SocketPath string

	// Path to the qrexec-client-vm binary for the qrexec transport.
	QrexecClientVM string

	// Delay between event feed reconnection attempts.
	ReconnectDelay time.Duration

	// Cache remote property values on the holders.
	EnableCache bool
}

func (args *ConnectionArgs) fill() *ConnectionArgs {
	if args == nil {
		args = &ConnectionArgs{}
	}

	if args.SocketPath == "" {
		args.SocketPath = os.Getenv("QUBESD_SOCKET")
		if args.SocketPath == "" {
			args.SocketPath = DefaultSocketPath
		}
	}

	if args.QrexecClientVM == "" {
		args.QrexecClientVM = DefaultQrexecClientVM
	}

	if args.ReconnectDelay == 0 {
		args.ReconnectDelay = DefaultReconnectDelay
	}

	return args
}

// ConnectUnix connects to qubesd over its local unix socket. Used when
// running in dom0. No call is made until the App is first used.
func ConnectUnix(args *ConnectionArgs) *App {
	args = args.fill()

	return newApp(&unixTransport{socketPath: args.SocketPath}, args)
}

// ConnectQrexec connects to qubesd through qrexec service calls. Used when
// running in a management VM.
func ConnectQrexec(args *ConnectionArgs) *App {
	args = args.fill()

	return newApp(&qrexecTransport{clientVM: args.QrexecClientVM}, args)
}

// Connect picks the right transport for the local environment: the unix
// socket when it exists, qrexec otherwise.
func Connect(args *ConnectionArgs) *App {
	args = args.fill()

	_, err := os.Stat(args.SocketPath)
	if err == nil {
		return ConnectUnix(args)
	}

	return ConnectQrexec(args)
}
