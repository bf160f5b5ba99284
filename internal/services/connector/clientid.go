package connector

import (
	"strings"

	"github.com/google/uuid"

	"github.com/vadiminshakov/copier/internal/domain"
)

var clientOrderNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("copier.client-order-id"))

// ClientOrderID derives a stable client order id for a (fill, account) pair so
// a resubmission after restart is rejected as a duplicate by the exchange.
func ClientOrderID(key domain.IdempotencyKey) string {
	id := uuid.NewSHA1(clientOrderNamespace, []byte(key.String()))
	return "cp" + strings.ReplaceAll(id.String(), "-", "")
}
