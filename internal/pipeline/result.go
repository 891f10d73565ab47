package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// State is a step of the conversion state machine.
type State string

const (
	StateDetecting  State = "detecting"
	StateParsing    State = "parsing"
	StateEnriching  State = "enriching"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// transitions lists the legal moves. Failed is reachable from every
// non-terminal state.
var transitions = map[State][]State{
	StateDetecting:  {StateParsing, StateFailed},
	StateParsing:    {StateEnriching, StateAssembling, StateFailed},
	StateEnriching:  {StateEnriching, StateAssembling, StateFailed},
	StateAssembling: {StateDone, StateFailed},
}

// Status is the overall outcome of a conversion.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
)

// ErrorItem is one warning or error with the stage it came from.
type ErrorItem struct {
	Stage   string    `json:"stage"`
	Kind    errs.Kind `json:"kind"`
	Page    int       `json:"page,omitempty"`
	Message string    `json:"message"`
	// Warning is set for recovered problems that did not stop the
	// conversion.
	Warning bool `json:"warning"`

	err error
}

// Err returns the underlying error.
func (e ErrorItem) Err() error {
	if e.err != nil {
		return e.err
	}
	return errs.Newf(e.Kind, e.Stage, "%s", e.Message)
}

// Timing is the wall time spent in one stage, or in one page of a stage
// when profiling is enabled.
type Timing struct {
	Stage    string        `json:"stage"`
	Page     int           `json:"page,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Input describes what was converted.
type Input struct {
	Name      string           `json:"name"`
	Size      int              `json:"size"`
	Hash      string           `json:"hash,omitempty"`
	Detection detect.Detection `json:"detection"`
	Pipeline  Kind             `json:"pipeline,omitempty"`
}

// ConversionResult is the outcome of converting one source.
type ConversionResult struct {
	ID       string            `json:"id"`
	Input    Input             `json:"input"`
	Status   Status            `json:"status"`
	State    State             `json:"state"`
	Document *doctree.Document `json:"document,omitempty"`
	Errors   []ErrorItem       `json:"errors"`
	Timings  []Timing          `json:"timings"`
	Cached   bool              `json:"cached,omitempty"`
}

// Err returns the fatal error of a failed conversion, or nil.
func (r *ConversionResult) Err() error {
	if r.Status != StatusFailure {
		return nil
	}
	for i := len(r.Errors) - 1; i >= 0; i-- {
		if !r.Errors[i].Warning {
			return r.Errors[i].Err()
		}
	}
	return errs.Newf(errs.KindUnknown, "convert", "conversion failed")
}

// Warnings returns the non-fatal items.
func (r *ConversionResult) Warnings() []ErrorItem {
	var out []ErrorItem
	for _, e := range r.Errors {
		if e.Warning {
			out = append(out, e)
		}
	}
	return out
}

func (r *ConversionResult) transition(to State) error {
	for _, s := range transitions[r.State] {
		if s == to {
			r.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.State, to)
}

func (r *ConversionResult) warn(stage string, page int, err error) {
	r.Errors = append(r.Errors, ErrorItem{
		Stage: stage, Kind: errs.KindOf(err), Page: page, Message: err.Error(), Warning: true, err: err,
	})
}

func (r *ConversionResult) fail(stage string, err error) {
	r.Errors = append(r.Errors, ErrorItem{Stage: stage, Kind: errs.KindOf(err), Message: err.Error(), err: err})
	r.Document = nil
	r.State = StateFailed
	r.Status = StatusFailure
}

func (r *ConversionResult) finish() {
	r.State = StateDone
	r.Status = StatusSuccess
	if len(r.Errors) > 0 {
		r.Status = StatusPartialSuccess
	}
}

// ErrIllegalTransition reports a bug in stage sequencing.
var ErrIllegalTransition = errors.New("pipeline: illegal state transition")
