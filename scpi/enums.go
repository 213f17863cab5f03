package scpi

import "fmt"

// NumberFormat selects the encoding of numeric query replies.
type NumberFormat int

const (
	// FormatASCII transfers values as comma-separated ASCII text.
	FormatASCII NumberFormat = iota
	// FormatBinaryIntel transfers values as little-endian float32 blocks.
	FormatBinaryIntel
	// FormatBinaryMotorola transfers values as big-endian float32 blocks.
	FormatBinaryMotorola
)

// Token returns the wire token for the number format.
func (f NumberFormat) Token() string {
	switch f {
	case FormatBinaryIntel:
		return "BIN_INTEL"
	case FormatBinaryMotorola:
		return "BIN_MOTOROLA"
	default:
		return "ASCII"
	}
}

// ParseNumberFormat maps a wire token back to a NumberFormat.
func ParseNumberFormat(token string) (NumberFormat, error) {
	switch token {
	case "ASCII":
		return FormatASCII, nil
	case "BIN_INTEL":
		return FormatBinaryIntel, nil
	case "BIN_MOTOROLA":
		return FormatBinaryMotorola, nil
	default:
		return FormatASCII, fmt.Errorf("%w: unknown number format token %q", ErrDecode, token)
	}
}

// TimestampMode selects the leading timestamp column of ELOG records.
type TimestampMode string

const (
	// TimestampOff disables the timestamp column.
	TimestampOff TimestampMode = "OFF"
	// TimestampRel prepends the offset since acquisition start in seconds.
	TimestampRel TimestampMode = "REL"
	// TimestampAbs prepends an absolute date and time.
	TimestampAbs TimestampMode = "ABS"
	// TimestampElog prepends the offset since external logging start in seconds.
	TimestampElog TimestampMode = "ELOG"
)

// ParseTimestampMode maps a wire token back to a TimestampMode.
func ParseTimestampMode(token string) (TimestampMode, error) {
	switch mode := TimestampMode(token); mode {
	case TimestampOff, TimestampRel, TimestampAbs, TimestampElog:
		return mode, nil
	default:
		return TimestampOff, fmt.Errorf("%w: unknown timestamp mode token %q", ErrDecode, token)
	}
}

// Valid reports whether the mode is one of the closed set.
func (m TimestampMode) Valid() bool {
	switch m {
	case TimestampOff, TimestampRel, TimestampAbs, TimestampElog:
		return true
	default:
		return false
	}
}

// Calculation is a statistical aggregate computed per channel and period
// by the external-logging subsystem.
type Calculation string

const (
	CalcAverage Calculation = "AVG"
	CalcMinimum Calculation = "MIN"
	CalcMaximum Calculation = "MAX"
	CalcRMS     Calculation = "RMS"
)

// ParseCalculation maps a wire token back to a Calculation.
func ParseCalculation(token string) (Calculation, error) {
	switch calc := Calculation(token); calc {
	case CalcAverage, CalcMinimum, CalcMaximum, CalcRMS:
		return calc, nil
	default:
		return "", fmt.Errorf("%w: unknown calculation token %q", ErrDecode, token)
	}
}

// Valid reports whether the calculation is one of the closed set.
func (c Calculation) Valid() bool {
	switch c {
	case CalcAverage, CalcMinimum, CalcMaximum, CalcRMS:
		return true
	default:
		return false
	}
}

// AcquisitionState is the device-side acquisition run state.
type AcquisitionState string

const (
	AcqStarted        AcquisitionState = "Started"
	AcqStopped        AcquisitionState = "Stopped"
	AcqWaitingForSync AcquisitionState = "Waiting_for_sync"
)

// ParseAcquisitionState maps a wire token back to an AcquisitionState.
func ParseAcquisitionState(token string) (AcquisitionState, error) {
	switch state := AcquisitionState(token); state {
	case AcqStarted, AcqStopped, AcqWaitingForSync:
		return state, nil
	default:
		return "", fmt.Errorf("%w: unknown acquisition state token %q", ErrDecode, token)
	}
}

// ReplayMode selects between live streaming and buffered bulk replay of a
// data-stream group.
type ReplayMode string

const (
	ReplayLive ReplayMode = "LIVE"
	ReplayBulk ReplayMode = "BULK"
)
