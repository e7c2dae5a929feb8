// Package umode implements the U-mode kernel execution boundary (D3): a
// sandboxed WASM module invoked as if it were a hart transitioning to
// user mode, with a single required host import (kernel_return) standing
// in for the "sret" resume contract.
package umode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// ExitKind classifies how a U-mode invocation ended.
type ExitKind uint8

const (
	ExitNormal ExitKind = iota
	ExitSystemAbort
	ExitUserError
	ExitBusError
	ExitException
)

func (k ExitKind) String() string {
	switch k {
	case ExitNormal:
		return "NORMAL"
	case ExitSystemAbort:
		return "SYSTEM_ABORT"
	case ExitUserError:
		return "USER_ERROR"
	case ExitBusError:
		return "BUS_ERROR"
	case ExitException:
		return "EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// KernelExit is the tagged outcome of one EnterUserMode call, the Go
// equivalent of the spec's sum type over exit reasons.
type KernelExit struct {
	Kind        ExitKind
	ReturnValue int64
	ReturnType  int32
}

// Runtime wraps wasmer-go to provide EnterUserMode: a fresh engine,
// store, and instance per call, so no state leaks between successive
// kernel launches on the same hart.
type Runtime struct{}

// NewRuntime constructs a umode runtime. It holds no state itself; every
// call to EnterUserMode is fully self-contained.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// EnterUserMode instantiates module fresh, invokes its entryExport with
// arg0, and classifies the outcome. ctx cancellation during the call is
// reported as ExitSystemAbort, matching Phase 6's abort-interaction path.
func (r *Runtime) EnterUserMode(ctx context.Context, module []byte, entryExport string, arg0 uint64) (KernelExit, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	mod, err := wasmer.NewModule(store, module)
	if err != nil {
		return KernelExit{}, fmt.Errorf("compile kernel module: %w", err)
	}

	result := make(chan KernelExit, 1)

	kernelReturn := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I64, wasmer.I32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			returnValue := args[0].I64()
			returnType := args[1].I32()
			result <- classifyReturn(returnValue, returnType)
			return []wasmer.Value{}, nil
		},
	)

	importObject := wasmer.NewImportObject()
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"kernel_return": kernelReturn,
	})

	instance, err := wasmer.NewInstance(mod, importObject)
	if err != nil {
		return KernelExit{}, fmt.Errorf("instantiate kernel module: %w", err)
	}
	defer instance.Close()

	entry, err := instance.Exports.GetFunction(entryExport)
	if err != nil {
		return KernelExit{}, fmt.Errorf("resolve entry export %q: %w: %w", entryExport, ErrNoEntry, err)
	}

	callDone := make(chan error, 1)
	go func() {
		_, callErr := entry(int64(arg0))
		callDone <- callErr
	}()

	select {
	case <-ctx.Done():
		return KernelExit{Kind: ExitSystemAbort}, nil
	case exit := <-result:
		// kernel_return was called; drain the call goroutine without
		// blocking the hart on a guest that keeps running after return.
		go func() { <-callDone }()
		return exit, nil
	case callErr := <-callDone:
		if callErr == nil {
			// Export returned without calling kernel_return: a calling
			// convention violation, the WASM equivalent of an illegal
			// instruction trap.
			return KernelExit{Kind: ExitException}, nil
		}
		return KernelExit{Kind: classifyTrap(callErr)}, nil
	}
}

func classifyReturn(returnValue int64, returnType int32) KernelExit {
	switch returnType {
	case 0:
		return KernelExit{Kind: ExitNormal, ReturnValue: returnValue, ReturnType: returnType}
	case 1:
		return KernelExit{Kind: ExitSystemAbort, ReturnValue: returnValue, ReturnType: returnType}
	case 2:
		return KernelExit{Kind: ExitUserError, ReturnValue: returnValue, ReturnType: returnType}
	default:
		return KernelExit{Kind: ExitException, ReturnValue: returnValue, ReturnType: returnType}
	}
}

// classifyTrap inspects a wasmer trap error message to distinguish a
// guest out-of-bounds memory access (BusError) from any other trap
// (Exception): wasmer-go does not expose a structured trap-kind enum, so
// this mirrors the teacher's own string-sniffing approach in its error
// paths elsewhere.
func classifyTrap(err error) ExitKind {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of bounds") || strings.Contains(msg, "memory access") {
		return ExitBusError
	}
	return ExitException
}

// ErrNoEntry is returned when a module was registered without a usable
// entry export.
var ErrNoEntry = errors.New("umode: module has no entry export")
