package remote

import (
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dmitrijs2005/notesync/internal/common"
)

// mapError translates transport and service failures into the sentinel
// errors the orchestrator classifies on. Unrecognized errors pass
// through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", common.ErrorNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", common.ErrorNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", common.ErrVersionConflict, err)
		case "AccessDenied", "AllAccessDisabled":
			return fmt.Errorf("%w: %v", common.ErrPermissionDenied, err)
		case "ExpiredToken", "TokenRefreshRequired", "InvalidToken",
			"InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", common.ErrAuthExpired, err)
		case "QuotaExceeded", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %v", common.ErrQuotaExceeded, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 401:
			return fmt.Errorf("%w: %v", common.ErrAuthExpired, err)
		case 403:
			return fmt.Errorf("%w: %v", common.ErrPermissionDenied, err)
		case 412:
			return fmt.Errorf("%w: %v", common.ErrVersionConflict, err)
		case 507:
			return fmt.Errorf("%w: %v", common.ErrQuotaExceeded, err)
		}
	}

	// the request never produced a response
	var sendErr *smithyhttp.RequestSendError
	var netErr net.Error
	if errors.As(err, &sendErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", common.ErrOffline, err)
	}

	return err
}

// IsPreconditionFailure reports whether the error came from a failed
// write expectation.
func IsPreconditionFailure(err error) bool {
	return errors.Is(err, common.ErrVersionConflict)
}
