package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies core failures. Every kind except KindFatal degrades to HOLD.
type ErrorKind string

const (
	KindDataUnavailable      ErrorKind = "data_unavailable"
	KindModelFitFailure      ErrorKind = "model_fit_failure"
	KindSerializationFailure ErrorKind = "serialization_failure"
	KindConfigInconsistency  ErrorKind = "config_inconsistency"
	KindFatal                ErrorKind = "fatal"
)

var (
	ErrDataUnavailable      = errors.New("data unavailable")
	ErrModelFitFailure      = errors.New("model fit failure")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrConfigInconsistency  = errors.New("config inconsistency")
	ErrFatal                = errors.New("fatal")
)

var kindSentinels = map[ErrorKind]error{
	KindDataUnavailable:      ErrDataUnavailable,
	KindModelFitFailure:      ErrModelFitFailure,
	KindSerializationFailure: ErrSerializationFailure,
	KindConfigInconsistency:  ErrConfigInconsistency,
	KindFatal:                ErrFatal,
}

// CoreError is the typed error returned by core components.
type CoreError struct {
	Kind       ErrorKind
	Op         string
	Instrument Instrument
	Err        error
}

// NewCoreError builds a CoreError.
func NewCoreError(kind ErrorKind, op string, inst Instrument, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Instrument: inst, Err: err}
}

func (e *CoreError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Instrument != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Instrument)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is lets errors.Is match a CoreError against its kind sentinel.
func (e *CoreError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of err, KindFatal for foreign errors and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsDegradable reports whether err is an expected condition that degrades to HOLD.
func IsDegradable(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindFatal
}

// DataUnavailable is a shorthand for the most common degradable error.
func DataUnavailable(op string, inst Instrument, err error) error {
	return NewCoreError(KindDataUnavailable, op, inst, err)
}
