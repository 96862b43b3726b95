package queue

const (
	TypeTrafficCapture = "traffic:capture"
	TypeRetryScan      = "webhook:retry_scan"
)

type TrafficCapturePayload struct {
	TenantID   string `json:"tenant_id"`
	Direction  string `json:"direction"`
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	Detail     string `json:"detail,omitempty"`
}
