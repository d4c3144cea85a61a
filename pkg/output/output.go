// Package output persists model variables while a simulation runs.
//
// A Writer reads the requested variables through their descriptors after
// each due step and hands the values to a Backend, which stores them as
// one array per variable. The first write of a variable defines the array:
// its leading dimension is the clock and the remaining ones come from the
// value itself.
package output

import (
	"context"
	"errors"
	"math"
	"reflect"
	"time"

	"github.com/leapstack-labs/leapsim/pkg/model"
)

// FinalClock is the clock name for variables written once at the end of a
// run.
const FinalClock = ""

// Errors returned by writers and backends.
var (
	ErrUnknownRun   = errors.New("unknown run")
	ErrUnknownArray = errors.New("unknown array")
	ErrShape        = errors.New("value shape does not match array")
	ErrClockFull    = errors.New("clock has no slot left")
)

// Request asks for one variable to be written at every step of a clock.
type Request struct {
	Key   model.VarKey
	Clock string
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID       string
	Scenario string
	// Order is the execution order of the model processes.
	Order []string
	// Dependencies maps each process to the processes it depends on.
	Dependencies map[string][]string
	StartedAt    time.Time
}

// DType is the element type of an array.
type DType string

// Element types.
const (
	DTypeFloat64 DType = "float64"
	DTypeInt64   DType = "int64"
	DTypeBool    DType = "bool"
	DTypeString  DType = "string"
	DTypeObject  DType = "object"
)

// ArraySpec defines an output array.
type ArraySpec struct {
	// Name is "process__variable".
	Name  string
	Key   model.VarKey
	Clock string
	// Dims labels every dimension, the clock first for clocked arrays.
	Dims      []string
	Shape     []int
	DType     DType
	FillValue any
	Attrs     map[string]any
}

// Backend stores run metadata and output arrays. Implementations must be
// safe for concurrent use by writers of different runs.
type Backend interface {
	StartRun(ctx context.Context, run RunInfo) error
	CreateArray(ctx context.Context, runID string, spec ArraySpec) error
	// WriteSlot stores value at index along the clock dimension. Arrays
	// without a clock are written whole with index -1.
	WriteSlot(ctx context.Context, runID, name string, index int, value any) error
	CompleteRun(ctx context.Context, runID string, status RunStatus, runErr error) error
	Close() error
}

// ArrayName returns the array name used for key.
func ArrayName(key model.VarKey) string {
	return key.Process + "__" + key.Variable
}

// InferDType returns the element type of value. Integers mixed with floats
// widen to float64; any other mix is an object array.
func InferDType(value any) DType {
	var kinds struct{ float, integer, boolean, str, other bool }
	var walk func(rv reflect.Value)
	walk = func(rv reflect.Value) {
		for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
			if rv.IsNil() {
				kinds.other = true
				return
			}
			rv = rv.Elem()
		}
		if !rv.IsValid() {
			kinds.other = true
			return
		}
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				walk(rv.Index(i))
			}
		case reflect.Float32, reflect.Float64:
			kinds.float = true
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			kinds.integer = true
		case reflect.Bool:
			kinds.boolean = true
		case reflect.String:
			kinds.str = true
		default:
			kinds.other = true
		}
	}
	walk(reflect.ValueOf(value))

	numeric := kinds.float || kinds.integer
	switch {
	case kinds.other:
		return DTypeObject
	case kinds.str:
		if numeric || kinds.boolean {
			return DTypeObject
		}
		return DTypeString
	case kinds.boolean:
		if numeric {
			return DTypeObject
		}
		return DTypeBool
	case kinds.float:
		return DTypeFloat64
	case kinds.integer:
		return DTypeInt64
	default:
		// empty arrays
		return DTypeFloat64
	}
}

// FillValue returns the value of array slots that were never written.
func FillValue(dtype DType) any {
	switch dtype {
	case DTypeFloat64:
		return math.NaN()
	case DTypeInt64:
		return int64(0)
	case DTypeBool:
		return false
	case DTypeString:
		return ""
	default:
		return nil
	}
}
