package domain

// RegisteredDevice mirrors the server-side device record returned by
// registration. ConnectionID is empty until the realtime channel binds.
type RegisteredDevice struct {
	ID           string `json:"id"`
	DeviceName   string `json:"device_name"`
	ConnectionID string `json:"connection_id,omitempty"`
	IsOnline     bool   `json:"is_online"`
	IsAvailable  bool   `json:"is_available"`
	MacAddress   string `json:"mac_address"`
	IPAddress    string `json:"ip_address"`
}

type RegisterDeviceRequest struct {
	DeviceName    string `json:"device_name" validate:"required"`
	MacAddress    string `json:"device_mac_address" validate:"required"`
	IPAddress     string `json:"device_ip" validate:"required"`
	StaffDeviceID string `json:"staff_device_id" validate:"required"`
}

// RegisterDeviceResponse carries the server record plus an optional bearer
// token the agent attaches to subsequent calls.
type RegisterDeviceResponse struct {
	Device RegisteredDevice `json:"device"`
	Token  string           `json:"token,omitempty"`
}

type UpdateConnectionRequest struct {
	DeviceID      string `json:"device_id" validate:"required"`
	DeviceName    string `json:"device_name"`
	ConnectionID  string `json:"connection_id" validate:"required"`
	StaffDeviceID string `json:"staff_device_id"`
}

type UpdateConnectionResponse struct {
	ConnectionID string `json:"connection_id"`
	IsOnline     bool   `json:"is_online"`
}
