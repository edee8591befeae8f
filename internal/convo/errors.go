package convo

import (
	"errors"
	"fmt"
)

// ErrNoSpeech reports that the capture or transcription step produced no
// usable speech. The turn is skipped; nothing is appended to history.
var ErrNoSpeech = errors.New("no speech detected")

// ErrUnavailable marks a collaborator as unreachable. Providers wrap it
// around connection-level failures; the loop treats it as fatal and stops
// the session.
var ErrUnavailable = errors.New("collaborator unavailable")

// ErrStopped is returned by RunTurn after the session reached StateStopped.
var ErrStopped = errors.New("session stopped")

// Stage identifies the pipeline step where a turn failed.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StagePlay       Stage = "play"
)

// StepError wraps a collaborator failure with the stage it happened in.
type StepError struct {
	Stage Stage
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsFatal reports whether an error should end the session rather than
// return the loop to idle.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
