package entity

// Announcement is what an advertising endpoint publishes for discoverers.
type Announcement struct {
	EndpointID string `json:"endpoint_id"`
	Name       string `json:"name"`
	ServiceID  string `json:"service_id"`
	Addr       string `json:"addr"`
}
