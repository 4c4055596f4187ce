package domain

// DeviceIdentity is the stable identity this device presents to the backend.
// All fields are generated on first run and persisted; PseudoMacAddress is a
// synthetic locally-administered address, not read from hardware.
type DeviceIdentity struct {
	DeviceName       string `json:"device_name"`
	PseudoMacAddress string `json:"device_mac_address"`
	IPOrHostname     string `json:"device_ip"`
	StaffDeviceID    string `json:"staff_device_id"`
}

// Complete reports whether every identity field is populated.
func (d *DeviceIdentity) Complete() bool {
	return d.DeviceName != "" &&
		d.PseudoMacAddress != "" &&
		d.IPOrHostname != "" &&
		d.StaffDeviceID != ""
}
