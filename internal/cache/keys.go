package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// TemplateInvalidationChannel carries "{ownerID}/{templateID}" whenever a
// template is replaced.
const TemplateInvalidationChannel = "template:invalidate"

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(identity string) string {
	return fmt.Sprintf("ratelimit:%s", identity)
}

func TemplateRef(ownerID, templateID string) string {
	return ownerID + "/" + templateID
}
