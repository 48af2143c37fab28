package capability

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/harun/korli/pkg/errkind"
)

// classify maps a provider error onto errkind. API errors are classified by
// status code, and transport failures are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var kindErr *errkind.Error
	if errors.As(err, &kindErr) {
		return err
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return errkind.FromStatus(op, openaiErr.StatusCode, err)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return errkind.FromStatus(op, anthropicErr.StatusCode, err)
	}

	if errkind.IsTransient(err) {
		return errkind.Transient(op, err)
	}
	return err
}
