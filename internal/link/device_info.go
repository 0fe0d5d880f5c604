package link

import (
	"net"
	"strconv"
)

// DeviceInfo es la vista "estática" del dispositivo que se envía a socket
type DeviceInfo struct {
	IMEI       string
	ICCID      string
	RemoteIP   string
	RemotePort int
}

func deviceInfo(imei, remote, iccid string) DeviceInfo {
	info := DeviceInfo{IMEI: imei, ICCID: iccid}
	if host, port, err := net.SplitHostPort(remote); err == nil {
		info.RemoteIP = host
		info.RemotePort, _ = strconv.Atoi(port)
	}
	return info
}

type deviceConnectPayload struct {
	DeviceConnect bool   `json:"device_connect"`
	IMEI          string `json:"imei"`
	ICCID         string `json:"iccid,omitempty"`
	RemoteIP      string `json:"remote_ip,omitempty"`
	RemotePort    int    `json:"remote_port,omitempty"`
	At            string `json:"at"`
}

type deviceDisconnectPayload struct {
	DeviceDisconnect bool   `json:"device_disconnect"`
	IMEI             string `json:"imei"`
	At               string `json:"at"`
}

// device_update, sent when a record reveals an ICCID
type deviceUpdatePayload struct {
	DeviceUpdate bool   `json:"device_update"`
	IMEI         string `json:"imei"`
	ICCID        string `json:"iccid,omitempty"`
}

// commandRequest llega del proxy: {"command":"getinfo","imei":"..."}
type commandRequest struct {
	Command string `json:"command"`
	IMEI    string `json:"imei"`
}

type commandResponse struct {
	CommandResponse bool   `json:"command_response"`
	IMEI            string `json:"imei"`
	Command         string `json:"command"`
	Response        string `json:"response,omitempty"`
	NoResponse      bool   `json:"no_response,omitempty"`
	Error           string `json:"error,omitempty"`
}
