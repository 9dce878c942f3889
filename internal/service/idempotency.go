package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RefundIdempotencyKey derives the key sent to the processor for one refund
// attempt. It is built from stable row ids only, so a retry of the same
// attempt always produces the same key while a fresh attempt after a failure
// gets a new one through its new record id.
func RefundIdempotencyKey(paymentID uint, subjectKind string, subjectID uint, recordID uint) string {
	seed := fmt.Sprintf("refund:v1:payment=%d:%s=%d:record=%d", paymentID, subjectKind, subjectID, recordID)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
