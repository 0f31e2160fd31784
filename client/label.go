package qubesadmin

import (
	"strconv"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Label is one of the fixed VM color labels.
type Label struct {
	app  *App
	name string

	color string
	index int
}

// Name returns the label's name.
func (l *Label) Name() string {
	return l.name
}

// String implements fmt.Stringer.
func (l *Label) String() string {
	return l.name
}

// Color returns the label's color as 0xRRGGBB.
func (l *Label) Color() (string, error) {
	if l.color != "" {
		return l.color, nil
	}

	data, err := l.app.Call("dom0", "admin.label.Get", l.name, nil)
	if err != nil {
		return "", err
	}

	l.color = string(data)
	return l.color, nil
}

// Index returns the label's numeric index.
func (l *Label) Index() (int, error) {
	if l.index != 0 {
		return l.index, nil
	}

	data, err := l.app.Call("dom0", "admin.label.Index", l.name, nil)
	if err != nil {
		return 0, err
	}

	index, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, api.CommunicationErrorf("Invalid label index: %q", string(data))
	}

	l.index = index
	return index, nil
}

// Icon returns the name of the label's icon.
func (l *Label) Icon() string {
	return "appvm-" + l.name
}
