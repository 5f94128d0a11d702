package avc

import "fmt"

// CType is the command type of an AV/C command frame.
type CType uint8

const (
	CTypeControl         CType = 0x00
	CTypeStatus          CType = 0x01
	CTypeSpecificInquiry CType = 0x02
	CTypeNotify          CType = 0x03
	CTypeGeneralInquiry  CType = 0x04
)

// ResponseCode shares the ctype field of a response frame.
type ResponseCode uint8

const (
	ResponseNotImplemented ResponseCode = 0x08
	ResponseAccepted       ResponseCode = 0x09
	ResponseRejected       ResponseCode = 0x0A
	ResponseInTransition   ResponseCode = 0x0B
	ResponseStable         ResponseCode = 0x0C
	ResponseChanged        ResponseCode = 0x0D
	ResponseInterim        ResponseCode = 0x0F
)

// ResponseImplemented is the unit info / subunit info name for ResponseStable.
const ResponseImplemented = ResponseStable

func (c ResponseCode) String() string {
	switch c {
	case ResponseNotImplemented:
		return "not-implemented"
	case ResponseAccepted:
		return "accepted"
	case ResponseRejected:
		return "rejected"
	case ResponseInTransition:
		return "in-transition"
	case ResponseStable:
		return "stable"
	case ResponseChanged:
		return "changed"
	case ResponseInterim:
		return "interim"
	default:
		return fmt.Sprintf("ResponseCode(%#x)", uint8(c))
	}
}

// IsReject reports whether the peer refused the command.
func (c ResponseCode) IsReject() bool {
	return c == ResponseNotImplemented || c == ResponseRejected
}

type SubunitType uint8

const (
	SubunitTypePanel SubunitType = 0x09
	SubunitTypeUnit  SubunitType = 0x1F
)

type Opcode uint8

const (
	OpcodeVendorDependent Opcode = 0x00
	OpcodeUnitInfo        Opcode = 0x30
	OpcodeSubunitInfo     Opcode = 0x31
	OpcodePassThrough     Opcode = 0x7C
)

func (o Opcode) String() string {
	switch o {
	case OpcodeVendorDependent:
		return "vendor-dependent"
	case OpcodeUnitInfo:
		return "unit-info"
	case OpcodeSubunitInfo:
		return "subunit-info"
	case OpcodePassThrough:
		return "pass-through"
	default:
		return fmt.Sprintf("Opcode(%#x)", uint8(o))
	}
}

// CompanyIDBluetoothSIG prefixes every Metadata-Transfer vendor-dependent frame.
const CompanyIDBluetoothSIG uint32 = 0x001958

// PDUID identifies a Metadata-Transfer PDU.
type PDUID uint8

const (
	PDUGetCapabilities                     PDUID = 0x10
	PDUListPlayerApplicationSettingAttrs   PDUID = 0x11
	PDUListPlayerApplicationSettingValues  PDUID = 0x12
	PDUGetCurrentPlayerApplicationSetting  PDUID = 0x13
	PDUSetPlayerApplicationSettingValue    PDUID = 0x14
	PDUGetPlayerApplicationSettingAttrText PDUID = 0x15
	PDUGetPlayerApplicationSettingValText  PDUID = 0x16
	PDUInformDisplayableCharacterSet       PDUID = 0x17
	PDUInformBatteryStatusOfCT             PDUID = 0x18
	PDUGetElementAttributes                PDUID = 0x20
	PDUGetPlayStatus                       PDUID = 0x30
	PDURegisterNotification                PDUID = 0x31
	PDURequestContinuingResponse           PDUID = 0x40
	PDUAbortContinuingResponse             PDUID = 0x41
	PDUSetAbsoluteVolume                   PDUID = 0x50
	PDUSetAddressedPlayer                  PDUID = 0x60
	PDUPlayItem                            PDUID = 0x74
	PDUAddToNowPlaying                     PDUID = 0x90
)

// IsContinuation reports whether the PDU steers a pull continuation.
func (p PDUID) IsContinuation() bool {
	return p == PDURequestContinuingResponse || p == PDUAbortContinuingResponse
}

// EventID names a notification registered with PDURegisterNotification.
type EventID uint8

const (
	EventPlaybackStatusChanged           EventID = 0x01
	EventTrackChanged                    EventID = 0x02
	EventTrackReachedEnd                 EventID = 0x03
	EventTrackReachedStart               EventID = 0x04
	EventPlaybackPosChanged              EventID = 0x05
	EventBattStatusChanged               EventID = 0x06
	EventSystemStatusChanged             EventID = 0x07
	EventPlayerApplicationSettingChanged EventID = 0x08
	EventNowPlayingContentChanged        EventID = 0x09
	EventAvailablePlayersChanged         EventID = 0x0A
	EventAddressedPlayerChanged          EventID = 0x0B
	EventUIDsChanged                     EventID = 0x0C
	EventVolumeChanged                   EventID = 0x0D
)

// MaxEvents is the size of a per-event notification table.
const MaxEvents = 16

// ErrorCode is the status byte carried by a rejected Metadata-Transfer response.
type ErrorCode uint8

const (
	ErrorInvalidCommand          ErrorCode = 0x00
	ErrorInvalidParameter        ErrorCode = 0x01
	ErrorParameterContentError   ErrorCode = 0x02
	ErrorInternalError           ErrorCode = 0x03
	ErrorOperationCompleted      ErrorCode = 0x04
	ErrorUIDChanged              ErrorCode = 0x05
	ErrorInvalidDirection        ErrorCode = 0x07
	ErrorNotADirectory           ErrorCode = 0x08
	ErrorDoesNotExist            ErrorCode = 0x09
	ErrorInvalidScope            ErrorCode = 0x0A
	ErrorRangeOutOfBounds        ErrorCode = 0x0B
	ErrorUIDIsADirectory         ErrorCode = 0x0C
	ErrorMediaInUse              ErrorCode = 0x0D
	ErrorNowPlayingListFull      ErrorCode = 0x0E
	ErrorSearchNotSupported      ErrorCode = 0x0F
	ErrorSearchInProgress        ErrorCode = 0x10
	ErrorInvalidPlayerID         ErrorCode = 0x11
	ErrorPlayerNotBrowsable      ErrorCode = 0x12
	ErrorPlayerNotAddressed      ErrorCode = 0x13
	ErrorNoValidSearchResults    ErrorCode = 0x14
	ErrorNoAvailablePlayers      ErrorCode = 0x15
	ErrorAddressedPlayerChanged  ErrorCode = 0x16
)
