package api

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerErrorRendering(t *testing.T) {
	err := NewServerError(ErrnameVMNotFound, "no such domain: %s", "work")
	assert.Equal(t, "no such domain: work", err.Error())

	err = NewServerError(ErrnameValue, "got %d, expected %d", "4", "2")
	assert.Equal(t, "got 4, expected 2", err.Error())

	err = NewServerError(ErrnameGeneric, "100%% broken")
	assert.Equal(t, "100% broken", err.Error())

	// Too few arguments must not panic.
	err = NewServerError(ErrnameGeneric, "%s and %s", "one")
	assert.Equal(t, "one and ", err.Error())
}

func TestServerErrorHierarchy(t *testing.T) {
	err := NewServerError(ErrnameVMNotRunning, "domain is not running")

	assert.True(t, err.IsA(ErrnameVMNotRunning))
	assert.True(t, err.IsA(ErrnameVMNotStarted))
	assert.True(t, err.IsA(ErrnameVM))
	assert.True(t, err.IsA(ErrnameGeneric))
	assert.False(t, err.IsA(ErrnameVMNotFound))
}

func TestServerErrorUnknownName(t *testing.T) {
	err := NewServerError("BrandNewError", "hm")

	assert.True(t, err.IsA("BrandNewError"))
	assert.True(t, err.IsA(ErrnameGeneric))
	assert.False(t, err.IsA(ErrnameVM))
}

func TestIsNoResponse(t *testing.T) {
	assert.True(t, IsNoResponse(&NoResponseError{}))
	assert.True(t, IsNoResponse(fmt.Errorf("wrapped: %w", &NoResponseError{})))

	// Daemon-access errors count as "no usable response" too.
	assert.True(t, IsNoResponse(NewServerError(ErrnameDaemonAccess, "denied")))
	assert.True(t, IsNoResponse(NewServerError(ErrnamePropertyAccessRejected, "denied")))

	assert.False(t, IsNoResponse(NewServerError(ErrnameVMNotFound, "nope")))
	assert.False(t, IsNoResponse(CommunicationErrorf("broken")))
}

func TestPredicates(t *testing.T) {
	notFound := NewServerError(ErrnameVMNotFound, "no such domain: %s", "x")
	assert.True(t, IsVMNotFound(notFound))
	assert.True(t, IsVMNotFound(fmt.Errorf("outer: %w", notFound)))
	assert.False(t, IsVMNotFound(NewServerError(ErrnameVM, "other")))

	assert.True(t, IsVMNotHalted(NewServerError(ErrnameVMNotHalted, "still up")))
	assert.True(t, IsVMNotRunning(NewServerError(ErrnameVMNotRunning, "down")))

	access := &PropertyAccessError{Property: "netvm"}
	assert.True(t, IsPropertyAccess(access))
	assert.Equal(t, `Failed to access "netvm" property`, access.Error())

	assert.True(t, IsCommunicationError(CommunicationErrorf("bad %s", "frame")))
	assert.False(t, IsCommunicationError(access))
}
