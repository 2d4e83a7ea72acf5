package dto

// WebhookAckResponse acknowledges a marketplace webhook delivery
type WebhookAckResponse struct {
	Received  bool   `json:"received"`
	Outcome   string `json:"outcome" example:"processed" enums:"processed,duplicate,ignored"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty" example:"sale"`
}
