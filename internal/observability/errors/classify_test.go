package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error", apperrors.Preparationf("bad file"), "preparation"},
		{"wrapped app error", fmt.Errorf("run: %w", apperrors.Aggregationf("rejected")), "aggregation"},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), "timeout"},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: goerrors.New("boom")}, "errors_errorstring"},
		{"plain", goerrors.New("boom"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
