package app

import "quill/api/internal/validate"

const (
	HomeTarget      = "/"
	DashboardTarget = "/dashboard"
)

const saveFailedMessage = "Could not save post"

type OutcomeKind string

const (
	OutcomeRedirect OutcomeKind = "redirect"
	OutcomeInvalid  OutcomeKind = "invalid"
	OutcomeFailure  OutcomeKind = "failure"
)

// Outcome is the result of a post mutation. Exactly one of Target, Errors or
// Message is meaningful, selected by Kind.
type Outcome struct {
	Kind    OutcomeKind
	Target  string
	Errors  validate.FieldErrors
	Raw     validate.RawPost
	Message string
}

func Redirect(target string) Outcome {
	return Outcome{Kind: OutcomeRedirect, Target: target}
}

// Invalid echoes the submitted values back so the form can be re-rendered.
func Invalid(errs validate.FieldErrors, raw validate.RawPost) Outcome {
	return Outcome{Kind: OutcomeInvalid, Errors: errs, Raw: raw}
}

func Failure(message string) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: message}
}
