// Package model holds the data shapes shared across the gateway core:
// the wire-opaque Message, the closed MessageType enumeration, device
// identity/ownership records, and the value-keyed request/response
// correlation structs used by the devices service.
package model

// MessageType is the closed set of message classes the core dispatches
// on. A Protocol implementation is responsible for classifying any
// inbound Message into one of these; anything it cannot classify is
// Unknown and is dropped by the router.
type MessageType int

const (
	Unknown MessageType = iota
	FeedValues
	ParameterSync
	TimeSync
	FileUploadInit
	FileUploadAbort
	FileBinaryResponse
	FileURLDownloadInit
	FileURLDownloadAbort
	FileListRequest
	FileDelete
	FilePurge
	FirmwareUpdateInstall
	FirmwareUpdateAbort
	DeviceRegistration
	DeviceRemoval
	RegisteredDevicesRequest
	RegisteredDevicesResponse
	ChildrenSynchronizationRequest
	ChildrenSynchronizationResponse
)

var messageTypeNames = map[MessageType]string{
	Unknown:                         "UNKNOWN",
	FeedValues:                      "FEED_VALUES",
	ParameterSync:                   "PARAMETER_SYNC",
	TimeSync:                        "TIME_SYNC",
	FileUploadInit:                  "FILE_UPLOAD_INIT",
	FileUploadAbort:                 "FILE_UPLOAD_ABORT",
	FileBinaryResponse:              "FILE_BINARY_RESPONSE",
	FileURLDownloadInit:             "FILE_URL_DOWNLOAD_INIT",
	FileURLDownloadAbort:            "FILE_URL_DOWNLOAD_ABORT",
	FileListRequest:                 "FILE_LIST_REQUEST",
	FileDelete:                      "FILE_DELETE",
	FilePurge:                       "FILE_PURGE",
	FirmwareUpdateInstall:           "FIRMWARE_UPDATE_INSTALL",
	FirmwareUpdateAbort:             "FIRMWARE_UPDATE_ABORT",
	DeviceRegistration:              "DEVICE_REGISTRATION",
	DeviceRemoval:                   "DEVICE_REMOVAL",
	RegisteredDevicesRequest:        "REGISTERED_DEVICES_REQUEST",
	RegisteredDevicesResponse:       "REGISTERED_DEVICES_RESPONSE",
	ChildrenSynchronizationRequest:  "CHILDREN_SYNCHRONIZATION_REQUEST",
	ChildrenSynchronizationResponse: "CHILDREN_SYNCHRONIZATION_RESPONSE",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Message is a (channel, payload) pair, opaque to the core beyond the
// channel string used for routing and topic matching. It is created by
// a Protocol implementation and consumed by a Connection.
type Message struct {
	Channel string
	Payload []byte
}

func NewMessage(channel string, payload []byte) *Message {
	return &Message{Channel: channel, Payload: payload}
}
