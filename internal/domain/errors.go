package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
	ErrInvalidHorizon     = errors.New("invalid horizon")
	ErrZoneNotFound       = errors.New("zone not found")
	ErrAlertNotFound      = errors.New("alert not found")
	ErrInvalidObservation = errors.New("invalid observation")
)

// CoordinateError reports a latitude or longitude outside its valid range.
type CoordinateError struct {
	Latitude  float64
	Longitude float64
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%g, %g): latitude must be in [-90,90] and longitude in [-180,180]", e.Latitude, e.Longitude)
}

func (e *CoordinateError) Unwrap() error { return ErrInvalidCoordinate }

// HorizonError reports a simulation horizon or step the simulator refuses to run.
type HorizonError struct {
	HorizonHours int
	StepHours    int
	MaxHours     int
}

func (e *HorizonError) Error() string {
	return fmt.Sprintf("invalid horizon %dh (step %dh): must be in (0, %d] with a positive step", e.HorizonHours, e.StepHours, e.MaxHours)
}

func (e *HorizonError) Unwrap() error { return ErrInvalidHorizon }
