package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is the body payment-processor deliveries receive once verified.
type WebhookAck struct {
	Received bool `json:"received"`
}

// WebhookError is the flat error body returned to payment-processor deliveries.
type WebhookError struct {
	Error string `json:"error"`
}

// UsageResult is the flat body the billable-action flow reads. Failures are
// reported through Success and Error rather than the HTTP status.
type UsageResult struct {
	Success   bool   `json:"success"`
	Remaining *int   `json:"remaining,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
	Error     string `json:"error,omitempty"`
}
