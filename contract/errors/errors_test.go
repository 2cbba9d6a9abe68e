package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodeTimeout)
	if e.Error() != berr.ErrCodeTimeout {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrTimeout, berr.ErrCodeTimeout},
		{berr.ErrClosed, berr.ErrCodeClosed},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrNotConnected, berr.ErrCodeNotConnected},
		{berr.ErrConnectionLost, berr.ErrCodeConnectionLost},
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrRoutingKeyUnknown, berr.ErrCodeRoutingKeyUnknown},
		{berr.ErrConfigInvalid, berr.ErrCodeConfigInvalid},
		{berr.ErrHandlerTypeMismatch, berr.ErrCodeHandlerTypeMismatch},
		{berr.ErrPublisherNotConfigured, berr.ErrCodePublisherNotConfigured},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestCode_SurvivesJoinAndWrap(t *testing.T) {
	err := fmt.Errorf("rabbitmq publish: %w", errors.Join(berr.ErrPublishFailed, errors.New("boom")))
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed in chain, got %v", err)
	}

	if errors.Is(err, berr.ErrTimeout) {
		t.Fatalf("unexpected ErrTimeout in chain")
	}
}
