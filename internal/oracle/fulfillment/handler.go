// Package fulfillment consumes oracle answers from Kafka and feeds them to
// the oracle consumer.
package fulfillment

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"sos/internal/oracle/models"
	"sos/internal/platform/kafka"
	dErrors "sos/pkg/domain-errors"
)

type Consumer interface {
	FulfillBytes(ctx context.Context, caller common.Address, oracleID common.Hash, payload []byte) (bool, error)
}

// Handler is a kafka.Handler for the fulfilment topic.
type Handler struct {
	consumer Consumer
	logger   *slog.Logger
}

func NewHandler(consumer Consumer, logger *slog.Logger) *Handler {
	return &Handler{consumer: consumer, logger: logger}
}

// Handle applies one fulfilment. Rejected answers (unknown id, wrong oracle,
// bad payload, check already signed) are logged and skipped so they do not
// block the partition. Anything else is returned for redelivery.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	var f models.Fulfillment
	if err := json.Unmarshal(msg.Value, &f); err != nil {
		h.logger.WarnContext(ctx, "skipping malformed fulfilment",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	passed, err := h.consumer.FulfillBytes(ctx, f.Oracle, f.ID, f.Payload)
	if err != nil {
		if isRejection(err) {
			h.logger.WarnContext(ctx, "fulfilment rejected",
				"oracle_request_id", f.ID.Hex(),
				"oracle", f.Oracle.Hex(),
				"error", err,
			)
			return nil
		}
		return err
	}
	h.logger.DebugContext(ctx, "fulfilment applied",
		"oracle_request_id", f.ID.Hex(),
		"passed", passed,
	)
	return nil
}

func isRejection(err error) bool {
	for _, code := range []dErrors.Code{
		dErrors.CodeNotFound,
		dErrors.CodeNotAllowed,
		dErrors.CodeValidation,
		dErrors.CodeMissingRole,
	} {
		if dErrors.HasCode(err, code) {
			return true
		}
	}
	return false
}
