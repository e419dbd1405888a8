package webhooks

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dreamsuncharted/funding-backend/api/responses"
	pkgerrors "github.com/dreamsuncharted/funding-backend/pkg/errors"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

// finishReconcile closes out a webhook delivery after the reconciler ran.
// Transient failures (database or redis unavailable) surface as non-2xx so
// the provider redelivers. Permanent ones are logged and acknowledged:
// a correlation id the ledger has never seen, or a disallowed transition,
// fails identically on every redelivery, and bouncing those only builds a
// retry backlog at the provider.
func finishReconcile(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, provider, eventID string, err error) {
	if err == nil {
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("%s event %s processed", provider, eventID))
		}
		responses.WriteSuccess(w, nil)
		return
	}

	if isTransient(err) {
		responses.WriteError(ctx, logg, w, err)
		return
	}

	if logg != nil {
		logg.Error(ctx, fmt.Sprintf("%s event %s absorbed without ledger change", provider, eventID), err)
	}
	responses.WriteSuccess(w, nil)
}

func isTransient(err error) bool {
	domainErr := pkgerrors.As(err)
	if domainErr == nil {
		return true
	}
	return pkgerrors.MetadataFor(domainErr.Code()).Retryable
}
