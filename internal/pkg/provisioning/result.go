package provisioning

// Result describes what processing one event did. Expected control flow
// (ignored events, already finished work) is reported here, not as errors.
type Result struct {
	EventID   string   `json:"event_id"`
	EventType string   `json:"event_type"`
	Outcome   string   `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Steps     []string `json:"steps,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	LicenseID uint     `json:"license_id,omitempty"`
	TenantID  uint     `json:"tenant_id,omitempty"`
}
