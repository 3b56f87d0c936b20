package workflow

import (
	"testing"

	"github.com/pkg/errors"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{Configf("bad manifest"), ErrConfig},
		{&MissingInputError{Task: "calibrate", Path: "data/raw.fits"}, ErrMissingInput},
		{&ActionFailure{Task: "calibrate", ExitCode: 2}, ErrActionFailed},
		{&CacheError{Op: "get", Key: "abc", Err: errors.New("boom")}, ErrCache},
	}

	for _, tc := range cases {
		if !errors.Is(tc.err, tc.kind) {
			t.Errorf("%v should unwrap to %v", tc.err, tc.kind)
		}
	}
}

func TestActionFailureMessage(t *testing.T) {
	withCode := &ActionFailure{Task: "stack", ExitCode: 3}
	if got := withCode.Error(); got != "task stack: action exited with code 3" {
		t.Errorf("unexpected message %q", got)
	}

	withErr := &ActionFailure{Task: "stack", ExitCode: -1, Err: errors.New("killed")}
	if got := withErr.Error(); got != "task stack: killed" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestErrorsAsExtractsFields(t *testing.T) {
	var err error = errors.Wrap(&MissingInputError{Task: "fit", Path: "model/priors.yaml"}, "planning")

	var missing *MissingInputError
	if !errors.As(err, &missing) {
		t.Fatal("errors.As should find the MissingInputError")
	}
	if missing.Task != "fit" || missing.Path != "model/priors.yaml" {
		t.Errorf("unexpected fields: %+v", missing)
	}
}
