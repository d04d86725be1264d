package capture

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/inlet-sh/inlet/internal/errors"
)

// Envelope is the normalized record an adapter hands to the core. The core
// assigns ID when absent; every other identity field is adapter-supplied
// and trusted as-is.
type Envelope struct {
	ID                  string            `json:"id,omitempty" validate:"omitempty,len=26"`
	Source              string            `json:"source" validate:"required,oneof=voice email"`
	RawContent          string            `json:"raw_content,omitempty"`
	ExternalRef         *string           `json:"external_ref,omitempty"`
	ExternalFingerprint *string           `json:"external_fingerprint,omitempty" validate:"omitempty,len=64,hexadecimal"`
	SizeBytes           *int64            `json:"size_bytes,omitempty" validate:"omitempty,gte=0"`
	ChannelNativeID     string            `json:"channel_native_id" validate:"required"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New()

// ValidateEnvelope checks an inbound envelope at the ingestion boundary.
// Malformed input is rejected here and never persisted as a capture.
func ValidateEnvelope(env *Envelope) error {
	env.ChannelNativeID = strings.TrimSpace(env.ChannelNativeID)
	env.ID = strings.TrimSpace(env.ID)

	if err := validate.Struct(env); err != nil {
		return errors.NewInvalidRequest(describeValidation(err))
	}

	if env.ID != "" {
		if _, err := ulid.ParseStrict(env.ID); err != nil {
			return errors.NewInvalidRequest("id must be a valid ULID: " + err.Error())
		}
	}

	// A capture with neither text nor an artifact reference has nothing to
	// stage and nothing to enrich.
	if strings.TrimSpace(env.RawContent) == "" && (env.ExternalRef == nil || strings.TrimSpace(*env.ExternalRef) == "") {
		return errors.NewInvalidRequest("envelope must carry raw_content or external_ref")
	}

	return nil
}

// describeValidation flattens a validator error into a single message.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, strings.ToLower(fe.Field())+" is required")
		case "oneof":
			parts = append(parts, strings.ToLower(fe.Field())+" must be one of: "+strings.ReplaceAll(fe.Param(), " ", ", "))
		default:
			parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag()+" check")
		}
	}
	return strings.Join(parts, "; ")
}
