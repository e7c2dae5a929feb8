package umode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyReturn(t *testing.T) {
	cases := []struct {
		returnType int32
		want       ExitKind
	}{
		{0, ExitNormal},
		{1, ExitSystemAbort},
		{2, ExitUserError},
		{7, ExitException},
	}
	for _, c := range cases {
		exit := classifyReturn(123, c.returnType)
		assert.Equal(t, c.want, exit.Kind)
		assert.Equal(t, int64(123), exit.ReturnValue)
		assert.Equal(t, c.returnType, exit.ReturnType)
	}
}

func TestClassifyTrap(t *testing.T) {
	assert.Equal(t, ExitBusError, classifyTrap(errors.New("memory access out of bounds")))
	assert.Equal(t, ExitBusError, classifyTrap(errors.New("wasm trap: out of bounds table access")))
	assert.Equal(t, ExitException, classifyTrap(errors.New("wasm trap: unreachable")))
}

func TestExitKindString(t *testing.T) {
	assert.Equal(t, "NORMAL", ExitNormal.String())
	assert.Equal(t, "SYSTEM_ABORT", ExitSystemAbort.String())
	assert.Equal(t, "BUS_ERROR", ExitBusError.String())
	assert.Equal(t, "UNKNOWN", ExitKind(99).String())
}
